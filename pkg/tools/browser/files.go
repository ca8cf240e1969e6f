package browser

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/entrhq/browseruse/pkg/agent/tools"
)

// maxReadBytes caps what read_file returns to the model.
const maxReadBytes = 64 * 1024

func readFileAction() Action {
	return Action{
		Name:        "read_file",
		Description: "Read a file from the agent's file system or one of the files made available to the task.",
		Schema: tools.BaseToolSchema(
			map[string]interface{}{
				"path": tools.Property("string", "Path of the file to read"),
			},
			[]string{"path"},
		),
		Handler: readFile,
	}
}

func writeFileAction() Action {
	return Action{
		Name:        "write_file",
		Description: "Write text to a file in the agent's file system, replacing any existing content.",
		Schema: tools.BaseToolSchema(
			map[string]interface{}{
				"path":    tools.Property("string", "Path of the file to write"),
				"content": tools.Property("string", "Text to write"),
			},
			[]string{"path", "content"},
		),
		Handler: writeFile,
	}
}

func readFile(_ context.Context, params Params, actx *ActionContext) (*ActionResult, error) {
	path := params.String("path")

	var (
		data []byte
		err  error
	)
	switch {
	case actx != nil && slices.Contains(actx.AvailableFilePaths, path):
		data, err = os.ReadFile(path)
	case actx != nil && actx.FileSystem != nil:
		data, err = actx.FileSystem.ReadFile(path)
	default:
		return nil, errNoFileSystem
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	truncated := len(data) > maxReadBytes
	if truncated {
		data = data[:maxReadBytes]
	}
	result := textResult("Content of %s:\n%s", path, data)
	if truncated {
		result.ExtractedContent += fmt.Sprintf("\n[Truncated at %d bytes]", maxReadBytes)
	}
	return result, nil
}

func writeFile(_ context.Context, params Params, actx *ActionContext) (*ActionResult, error) {
	if actx == nil || actx.FileSystem == nil {
		return nil, errNoFileSystem
	}
	path := params.String("path")
	content := params.String("content")
	if err := actx.FileSystem.WriteFile(path, []byte(content)); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return textResult("Wrote %d bytes to %s", len(content), path), nil
}
