package builtin

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/smartassist/smartassist/internal/tools"
)

// CaseConvertTool converts text between identifier case styles: upper,
// lower, title, camel, pascal, snake, kebab, and constant.
type CaseConvertTool struct{}

func (CaseConvertTool) Name() string { return "case_convert" }

func (CaseConvertTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "case_convert",
		Description: "Convert text to upper, lower, title, camel, pascal, snake, kebab, or constant case.",
		InputSchema: objSchema(map[string]any{
			"text": strProp("The text to convert."),
			"case": map[string]any{
				"type": "string",
				"enum": []string{"upper", "lower", "title", "camel", "pascal", "snake", "kebab", "constant"},
			},
		}, "text", "case"),
	}
}

func (CaseConvertTool) Group() tools.ToolGroup                { return tools.GroupString }
func (CaseConvertTool) RequiresApproval(json.RawMessage) bool { return false }

func (CaseConvertTool) Execute(_ context.Context, _ string, args json.RawMessage, _ tools.ToolContext) (*tools.ToolResult, error) {
	var input struct {
		Text string `json:"text"`
		Case string `json:"case"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.ErrorResult("invalid arguments: " + err.Error()), nil
	}

	var out string
	switch input.Case {
	case "upper":
		out = cases.Upper(language.Und).String(input.Text)
	case "lower":
		out = cases.Lower(language.Und).String(input.Text)
	case "title":
		out = cases.Title(language.Und).String(input.Text)
	case "camel":
		out = toCamel(wordsOf(input.Text), false)
	case "pascal":
		out = toCamel(wordsOf(input.Text), true)
	case "snake":
		out = strings.Join(wordsOf(input.Text), "_")
	case "kebab":
		out = strings.Join(wordsOf(input.Text), "-")
	case "constant":
		words := wordsOf(input.Text)
		for i, w := range words {
			words[i] = strings.ToUpper(w)
		}
		out = strings.Join(words, "_")
	default:
		return tools.ErrorResult("unknown case: " + input.Case), nil
	}
	return &tools.ToolResult{Content: out}, nil
}

// wordsOf splits an identifier-like string (snake_case, kebab-case,
// camelCase, PascalCase, or space separated) into lowercase words.
func wordsOf(s string) []string {
	var words []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			words = append(words, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}

	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || unicode.IsSpace(r):
			flush()
		case unicode.IsUpper(r):
			if i > 0 && (unicode.IsLower(runes[i-1]) || (unicode.IsUpper(runes[i-1]) && i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				flush()
			}
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

func toCamel(words []string, pascal bool) string {
	var b strings.Builder
	titler := cases.Title(language.Und)
	for i, w := range words {
		if i == 0 && !pascal {
			b.WriteString(w)
			continue
		}
		b.WriteString(titler.String(w))
	}
	return b.String()
}

// SplitTool splits text on a separator, returning a JSON array.
type SplitTool struct{}

func (SplitTool) Name() string { return "string_split" }

func (SplitTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "string_split",
		Description: "Split text on a separator and return a JSON array of parts.",
		InputSchema: objSchema(map[string]any{
			"text":      strProp("The text to split."),
			"separator": strProp("The separator to split on."),
		}, "text", "separator"),
	}
}

func (SplitTool) Group() tools.ToolGroup                { return tools.GroupString }
func (SplitTool) RequiresApproval(json.RawMessage) bool { return false }

func (SplitTool) Execute(_ context.Context, _ string, args json.RawMessage, _ tools.ToolContext) (*tools.ToolResult, error) {
	var input struct {
		Text      string `json:"text"`
		Separator string `json:"separator"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.ErrorResult("invalid arguments: " + err.Error()), nil
	}
	parts := strings.Split(input.Text, input.Separator)
	payload, _ := json.Marshal(parts)
	return &tools.ToolResult{Content: string(payload)}, nil
}

// JoinTool joins a JSON array of strings with a separator.
type JoinTool struct{}

func (JoinTool) Name() string { return "string_join" }

func (JoinTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "string_join",
		Description: "Join a JSON array of strings with a separator.",
		InputSchema: objSchema(map[string]any{
			"parts":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"separator": strProp("The separator to join with."),
		}, "parts", "separator"),
	}
}

func (JoinTool) Group() tools.ToolGroup                { return tools.GroupString }
func (JoinTool) RequiresApproval(json.RawMessage) bool { return false }

func (JoinTool) Execute(_ context.Context, _ string, args json.RawMessage, _ tools.ToolContext) (*tools.ToolResult, error) {
	var input struct {
		Parts     []string `json:"parts"`
		Separator string   `json:"separator"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.ErrorResult("invalid arguments: " + err.Error()), nil
	}
	return &tools.ToolResult{Content: strings.Join(input.Parts, input.Separator)}, nil
}

// RegexReplaceTool replaces regex matches in text, supporting $1-style
// capture group references in the replacement.
type RegexReplaceTool struct{}

func (RegexReplaceTool) Name() string { return "regex_replace" }

func (RegexReplaceTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "regex_replace",
		Description: "Replace all regex matches in text with a replacement (supports $1-style capture references).",
		InputSchema: objSchema(map[string]any{
			"text":        strProp("The text to operate on."),
			"pattern":     strProp("The regular expression (RE2 syntax)."),
			"replacement": strProp("The replacement string."),
		}, "text", "pattern", "replacement"),
	}
}

func (RegexReplaceTool) Group() tools.ToolGroup                { return tools.GroupString }
func (RegexReplaceTool) RequiresApproval(json.RawMessage) bool { return false }

func (RegexReplaceTool) Execute(_ context.Context, _ string, args json.RawMessage, _ tools.ToolContext) (*tools.ToolResult, error) {
	var input struct {
		Text        string `json:"text"`
		Pattern     string `json:"pattern"`
		Replacement string `json:"replacement"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.ErrorResult("invalid arguments: " + err.Error()), nil
	}
	re, err := regexp.Compile(input.Pattern)
	if err != nil {
		return tools.ErrorResult("invalid pattern: " + err.Error()), nil
	}
	return &tools.ToolResult{Content: re.ReplaceAllString(input.Text, input.Replacement)}, nil
}

// TrimPadTool trims whitespace (or a custom cutset) and optionally pads
// the result to a fixed width.
type TrimPadTool struct{}

func (TrimPadTool) Name() string { return "trim_pad" }

func (TrimPadTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "trim_pad",
		Description: "Trim leading/trailing characters from text and optionally pad it to a fixed width.",
		InputSchema: objSchema(map[string]any{
			"text":   strProp("The text to trim/pad."),
			"cutset": strProp("Characters to trim (default: whitespace)."),
			"width":  map[string]any{"type": "integer", "description": "Target width after padding (0 = no padding)."},
			"pad":    strProp("Character to pad with (default: space)."),
			"align":  map[string]any{"type": "string", "enum": []string{"left", "right"}, "description": "Padding alignment (default: right)."},
		}, "text"),
	}
}

func (TrimPadTool) Group() tools.ToolGroup                { return tools.GroupString }
func (TrimPadTool) RequiresApproval(json.RawMessage) bool { return false }

func (TrimPadTool) Execute(_ context.Context, _ string, args json.RawMessage, _ tools.ToolContext) (*tools.ToolResult, error) {
	var input struct {
		Text   string `json:"text"`
		Cutset string `json:"cutset"`
		Width  int    `json:"width"`
		Pad    string `json:"pad"`
		Align  string `json:"align"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.ErrorResult("invalid arguments: " + err.Error()), nil
	}

	out := input.Text
	if input.Cutset != "" {
		out = strings.Trim(out, input.Cutset)
	} else {
		out = strings.TrimSpace(out)
	}

	if input.Width > len(out) {
		pad := input.Pad
		if pad == "" {
			pad = " "
		}
		fill := strings.Repeat(pad, input.Width-len(out))
		if input.Align == "left" {
			out = out + fill
		} else {
			out = fill + out
		}
	}
	return &tools.ToolResult{Content: out}, nil
}
