package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/smartassist/smartassist/internal/tools"
	"github.com/smartassist/smartassist/internal/tools/browser"
)

// BrowserFetchTool loads a URL in a headless browser and returns its
// rendered text or HTML, handling JS-rendered pages a plain HTTP GET
// tool could not.
type BrowserFetchTool struct {
	Pool *browser.Pool
}

func (BrowserFetchTool) Name() string { return "browser_fetch" }

func (BrowserFetchTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "browser_fetch",
		Description: "Load a URL in a headless browser and return its rendered text or HTML.",
		InputSchema: objSchema(map[string]any{
			"url":    strProp("The URL to load."),
			"format": map[string]any{"type": "string", "enum": []string{"text", "html"}, "description": "Return rendered text (default) or full HTML."},
			"wait_for_selector": strProp("Optional CSS selector to wait for before extracting content."),
		}, "url"),
	}
}

func (BrowserFetchTool) Group() tools.ToolGroup                { return tools.GroupBrowser }
func (BrowserFetchTool) RequiresApproval(json.RawMessage) bool { return false }

func (t BrowserFetchTool) Execute(ctx context.Context, _ string, args json.RawMessage, _ tools.ToolContext) (*tools.ToolResult, error) {
	if t.Pool == nil {
		return tools.ErrorResult("browser fetching is not configured"), nil
	}

	var input struct {
		URL             string `json:"url"`
		Format          string `json:"format"`
		WaitForSelector string `json:"wait_for_selector"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.ErrorResult("invalid arguments: " + err.Error()), nil
	}
	if input.URL == "" {
		return tools.ErrorResult("url is required"), nil
	}
	if input.Format == "" {
		input.Format = "text"
	}

	instance, err := t.Pool.Acquire(ctx)
	if err != nil {
		return tools.ErrorResult("acquiring browser instance: " + err.Error()), nil
	}
	defer t.Pool.Release(instance)

	if _, err := instance.Page.Goto(input.URL); err != nil {
		return tools.ErrorResult(fmt.Sprintf("loading %s: %v", input.URL, err)), nil
	}

	if input.WaitForSelector != "" {
		if _, err := instance.Page.WaitForSelector(input.WaitForSelector, playwright.PageWaitForSelectorOptions{}); err != nil {
			return tools.ErrorResult(fmt.Sprintf("waiting for %q: %v", input.WaitForSelector, err)), nil
		}
	}

	var content string
	if input.Format == "html" {
		content, err = instance.Page.Content()
	} else {
		content, err = instance.Page.TextContent("body")
	}
	if err != nil {
		return tools.ErrorResult("extracting content: " + err.Error()), nil
	}

	return &tools.ToolResult{Content: content}, nil
}
