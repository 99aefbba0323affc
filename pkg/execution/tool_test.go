package execution

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"append", []string{"run.py"}, []string{"run.py", "/jobs/j/a.vcf"}},
		{"input", []string{"run.py", "--in={input}"}, []string{"run.py", "--in=/jobs/j/a.vcf"}},
		{"dir and file", []string{"-C", "{dir}", "{file}"}, []string{"-C", "/jobs/j", "a.vcf"}},
		{"no args", nil, []string{"/jobs/j/a.vcf"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandArgs(tt.args, "/jobs/j/a.vcf"))
		})
	}
}

func TestCommandTool(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	input := filepath.Join(dir, "sample.vcf")
	require.NoError(t, os.WriteFile(input, []byte("x\n"), 0o644))

	tool := CommandTool{Command: []string{sh, "-c", `cp "$1" sample.annot.vcf`, "annotate", "{file}"}}
	require.NoError(t, tool.Run(context.Background(), input))
	assert.FileExists(t, filepath.Join(dir, "sample.annot.vcf"))

	failing := CommandTool{Command: []string{sh, "-c", "exit 2"}}
	err = failing.Run(context.Background(), input)
	assert.ErrorIs(t, err, ErrToolFailed)
	assert.Contains(t, err.Error(), "exit code 2")

	assert.Error(t, CommandTool{}.Run(context.Background(), input))
}
