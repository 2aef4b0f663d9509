package builtin

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/smartassist/smartassist/internal/tools"
)

// ZipTool creates, extracts, and lists zip archives.
type ZipTool struct{}

func (ZipTool) Name() string { return "zip" }

func (ZipTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "zip",
		Description: "Create, extract, or list a zip archive.",
		InputSchema: objSchema(map[string]any{
			"action":  map[string]any{"type": "string", "enum": []string{"create", "extract", "list"}},
			"archive": strProp("Path to the zip archive, relative to the working directory."),
			"paths":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Files to add (action=create)."},
			"dest":    strProp("Destination directory for extraction (action=extract)."),
		}, "action", "archive"),
	}
}

func (ZipTool) Group() tools.ToolGroup { return tools.GroupArchive }

// RequiresApproval reports true for create/extract (they write to
// disk) and false for list (read-only introspection).
func (ZipTool) RequiresApproval(args json.RawMessage) bool {
	var input struct {
		Action string `json:"action"`
	}
	_ = json.Unmarshal(args, &input)
	return input.Action == "create" || input.Action == "extract"
}

func (ZipTool) Execute(_ context.Context, _ string, args json.RawMessage, tc tools.ToolContext) (*tools.ToolResult, error) {
	var input struct {
		Action  string   `json:"action"`
		Archive string   `json:"archive"`
		Paths   []string `json:"paths"`
		Dest    string   `json:"dest"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.ErrorResult("invalid arguments: " + err.Error()), nil
	}
	archivePath, err := resolvePath(tc.Cwd, input.Archive)
	if err != nil {
		return tools.ErrorResult(err.Error()), nil
	}

	switch input.Action {
	case "create":
		return zipCreate(tc.Cwd, archivePath, input.Paths)
	case "extract":
		dest := input.Dest
		if dest == "" {
			dest = "."
		}
		destPath, err := resolvePath(tc.Cwd, dest)
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		return zipExtract(archivePath, destPath)
	case "list":
		return zipList(archivePath)
	default:
		return tools.ErrorResult("action must be one of create, extract, list"), nil
	}
}

func zipCreate(cwd, archivePath string, paths []string) (*tools.ToolResult, error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return tools.ErrorResult(err.Error()), nil
	}
	defer out.Close()

	w := zip.NewWriter(out)
	for _, p := range paths {
		abs, err := resolvePath(cwd, p)
		if err != nil {
			w.Close()
			return tools.ErrorResult(err.Error()), nil
		}
		if err := addFileToZip(w, abs, p); err != nil {
			w.Close()
			return tools.ErrorResult(err.Error()), nil
		}
	}
	if err := w.Close(); err != nil {
		return tools.ErrorResult(err.Error()), nil
	}
	return &tools.ToolResult{Content: fmt.Sprintf("created %s with %d entries", archivePath, len(paths))}, nil
}

func addFileToZip(w *zip.Writer, abs, name string) error {
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return filepath.Walk(abs, func(p string, fi os.FileInfo, err error) error {
			if err != nil || fi.IsDir() {
				return err
			}
			rel, _ := filepath.Rel(filepath.Dir(abs), p)
			return writeZipEntry(w, p, filepath.ToSlash(rel))
		})
	}
	return writeZipEntry(w, abs, filepath.ToSlash(name))
}

func writeZipEntry(w *zip.Writer, srcPath, entryName string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := w.Create(entryName)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}

func zipExtract(archivePath, dest string) (*tools.ToolResult, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return tools.ErrorResult(err.Error()), nil
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return tools.ErrorResult(err.Error()), nil
	}

	count := 0
	for _, f := range r.File {
		target := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) && target != filepath.Clean(dest) {
			return tools.ErrorResult(fmt.Sprintf("zip entry %q escapes destination", f.Name)), nil
		}
		if f.FileInfo().IsDir() {
			os.MkdirAll(target, 0o755)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		if err := extractZipEntry(f, target); err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		count++
	}
	return &tools.ToolResult{Content: fmt.Sprintf("extracted %d files to %s", count, dest)}, nil
}

func extractZipEntry(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

func zipList(archivePath string) (*tools.ToolResult, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return tools.ErrorResult(err.Error()), nil
	}
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	payload, _ := json.Marshal(names)
	return &tools.ToolResult{Content: string(payload)}, nil
}

// TarTool creates, extracts, and lists (optionally gzip-compressed) tar
// archives, the Archive tool group's second representative member.
type TarTool struct{}

func (TarTool) Name() string { return "tar" }

func (TarTool) Definition() tools.ToolDefinition {
	return tools.ToolDefinition{
		Name:        "tar",
		Description: "Create, extract, or list a (optionally gzip-compressed) tar archive.",
		InputSchema: objSchema(map[string]any{
			"action":  map[string]any{"type": "string", "enum": []string{"create", "extract", "list"}},
			"archive": strProp("Path to the tar archive, relative to the working directory."),
			"paths":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"dest":    strProp("Destination directory for extraction (action=extract)."),
			"gzip":    map[string]any{"type": "boolean", "description": "Compress/decompress with gzip. Inferred from a .gz/.tgz suffix if omitted."},
		}, "action", "archive"),
	}
}

func (TarTool) Group() tools.ToolGroup { return tools.GroupArchive }

func (TarTool) RequiresApproval(args json.RawMessage) bool {
	var input struct {
		Action string `json:"action"`
	}
	_ = json.Unmarshal(args, &input)
	return input.Action == "create" || input.Action == "extract"
}

func (TarTool) Execute(_ context.Context, _ string, args json.RawMessage, tc tools.ToolContext) (*tools.ToolResult, error) {
	var input struct {
		Action  string   `json:"action"`
		Archive string   `json:"archive"`
		Paths   []string `json:"paths"`
		Dest    string   `json:"dest"`
		Gzip    *bool    `json:"gzip"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return tools.ErrorResult("invalid arguments: " + err.Error()), nil
	}
	archivePath, err := resolvePath(tc.Cwd, input.Archive)
	if err != nil {
		return tools.ErrorResult(err.Error()), nil
	}

	useGzip := strings.HasSuffix(input.Archive, ".gz") || strings.HasSuffix(input.Archive, ".tgz")
	if input.Gzip != nil {
		useGzip = *input.Gzip
	}

	switch input.Action {
	case "create":
		return tarCreate(tc.Cwd, archivePath, input.Paths, useGzip)
	case "extract":
		dest := input.Dest
		if dest == "" {
			dest = "."
		}
		destPath, err := resolvePath(tc.Cwd, dest)
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		return tarExtract(archivePath, destPath, useGzip)
	case "list":
		return tarList(archivePath, useGzip)
	default:
		return tools.ErrorResult("action must be one of create, extract, list"), nil
	}
}

func tarCreate(cwd, archivePath string, paths []string, useGzip bool) (*tools.ToolResult, error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return tools.ErrorResult(err.Error()), nil
	}
	defer out.Close()

	var w io.Writer = out
	var gz *gzip.Writer
	if useGzip {
		gz = gzip.NewWriter(out)
		w = gz
	}
	tw := tar.NewWriter(w)

	for _, p := range paths {
		abs, err := resolvePath(cwd, p)
		if err != nil {
			tw.Close()
			return tools.ErrorResult(err.Error()), nil
		}
		if err := addFileToTar(tw, abs, p); err != nil {
			tw.Close()
			return tools.ErrorResult(err.Error()), nil
		}
	}
	if err := tw.Close(); err != nil {
		return tools.ErrorResult(err.Error()), nil
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
	}
	return &tools.ToolResult{Content: fmt.Sprintf("created %s with %d entries", archivePath, len(paths))}, nil
}

func addFileToTar(tw *tar.Writer, abs, name string) error {
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return filepath.Walk(abs, func(p string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, _ := filepath.Rel(filepath.Dir(abs), p)
			return writeTarEntry(tw, p, filepath.ToSlash(rel), fi)
		})
	}
	return writeTarEntry(tw, abs, filepath.ToSlash(name), info)
}

func writeTarEntry(tw *tar.Writer, srcPath, entryName string, info os.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = entryName
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(tw, src)
	return err
}

func tarExtract(archivePath, dest string, useGzip bool) (*tools.ToolResult, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return tools.ErrorResult(err.Error()), nil
	}
	defer f.Close()

	var r io.Reader = f
	if useGzip {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		defer gz.Close()
		r = gz
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return tools.ErrorResult(err.Error()), nil
	}

	tr := tar.NewReader(r)
	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		target := filepath.Join(dest, hdr.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) && target != filepath.Clean(dest) {
			return tools.ErrorResult(fmt.Sprintf("tar entry %q escapes destination", hdr.Name)), nil
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			os.MkdirAll(target, 0o755)
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return tools.ErrorResult(err.Error()), nil
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return tools.ErrorResult(err.Error()), nil
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return tools.ErrorResult(err.Error()), nil
			}
			out.Close()
			count++
		}
	}
	return &tools.ToolResult{Content: fmt.Sprintf("extracted %d files to %s", count, dest)}, nil
}

func tarList(archivePath string, useGzip bool) (*tools.ToolResult, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return tools.ErrorResult(err.Error()), nil
	}
	defer f.Close()

	var r io.Reader = f
	if useGzip {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		names = append(names, hdr.Name)
	}
	payload, _ := json.Marshal(names)
	return &tools.ToolResult{Content: string(payload)}, nil
}
