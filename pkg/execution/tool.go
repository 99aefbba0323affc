package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrToolFailed indicates the annotation tool ran and reported failure.
var ErrToolFailed = errors.New("annotation tool failed")

// Tool runs the annotation tool on a staged input. The tool writes
// <basename>.annot.vcf and <basename>.vcf.count.log next to the input.
type Tool interface {
	Run(ctx context.Context, inputPath string) error
}

// CommandTool runs an external command in the input's directory.
//
// Arguments may reference {input}, {dir} and {file}; when none of them
// appear the input path is appended as the last argument.
type CommandTool struct {
	Command []string
	Stdout  io.Writer
	Stderr  io.Writer
}

// Run executes the command and waits for it.
func (t CommandTool) Run(ctx context.Context, inputPath string) error {
	if len(t.Command) == 0 || strings.TrimSpace(t.Command[0]) == "" {
		return errors.New("annotation command is not configured")
	}
	argv := expandArgs(t.Command[1:], inputPath)

	cmd := exec.CommandContext(ctx, t.Command[0], argv...)
	cmd.Dir = filepath.Dir(inputPath)
	cmd.Stdout = t.Stdout
	cmd.Stderr = t.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: exit code %d", ErrToolFailed, exitErr.ExitCode())
		}
		return fmt.Errorf("%w: %v", ErrToolFailed, err)
	}
	return nil
}

func expandArgs(args []string, inputPath string) []string {
	r := strings.NewReplacer(
		"{input}", inputPath,
		"{dir}", filepath.Dir(inputPath),
		"{file}", filepath.Base(inputPath),
	)
	out := make([]string, 0, len(args)+1)
	templated := false
	for _, a := range args {
		expanded := r.Replace(a)
		if expanded != a {
			templated = true
		}
		out = append(out, expanded)
	}
	if !templated {
		out = append(out, inputPath)
	}
	return out
}

// ToolFunc adapts a function to Tool.
type ToolFunc func(ctx context.Context, inputPath string) error

// Run calls f.
func (f ToolFunc) Run(ctx context.Context, inputPath string) error { return f(ctx, inputPath) }
