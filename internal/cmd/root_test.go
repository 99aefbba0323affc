package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/job"
)

func TestSetVersionInfo(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{name: "set all values", version: "1.0.0", commit: "abc123", buildDate: "2024-01-15"},
		{name: "set dev version", version: "dev", commit: "HEAD", buildDate: "unknown"},
		{name: "set empty values"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

// resetFlags restores every flag to its default between executions.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeLocalConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := `backend: local
store:
  sqlite_path: ` + filepath.Join(dir, "gas.db") + `
storage:
  local_dir: ` + filepath.Join(dir, "buckets") + `
vault:
  local_dir: ` + filepath.Join(dir, "vault") + `
execution:
  jobs_dir: ` + filepath.Join(dir, "jobs") + `
  launcher: inline
logging:
  level: error
`
	path := filepath.Join(dir, "gas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFlagOverrides(t *testing.T) {
	defer func() { healthAddr, logLevel, verbose, cfgFile = "", "", false, "" }()

	healthAddr, logLevel, verbose = "", "", false
	assert.Empty(t, flagOverrides())
	assert.Empty(t, childArgs())

	healthAddr = ":8081"
	verbose = true
	o := flagOverrides()
	assert.Equal(t, map[string]any{"addr": ":8081"}, o["health"])
	assert.Equal(t, map[string]any{"level": "debug"}, o["logging"])

	// An explicit level beats --verbose.
	logLevel = "warn"
	assert.Equal(t, map[string]any{"level": "warn"}, flagOverrides()["logging"])

	cfgFile = "/etc/gas.yaml"
	assert.Equal(t, []string{"--config", "/etc/gas.yaml", "--verbose", "--log-level", "warn"}, childArgs())
}

func TestSubmitAndStatus(t *testing.T) {
	cfg := writeLocalConfig(t)
	input := filepath.Join(t.TempDir(), "sample.vcf")
	require.NoError(t, os.WriteFile(input, []byte("##fileformat=VCFv4.2\n"), 0o644))

	out, err := execute(t, "--config", cfg, "submit", input, "--user", "alice")
	require.NoError(t, err)
	jobID := strings.TrimSpace(out)
	require.NotEmpty(t, jobID)

	out, err = execute(t, "--config", cfg, "status", jobID, "--json")
	require.NoError(t, err)
	var rec job.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, jobID, rec.JobID)
	assert.Equal(t, "alice", rec.UserID)
	assert.Equal(t, job.StatusPending, rec.Status)

	out, err = execute(t, "--config", cfg, "status", jobID)
	require.NoError(t, err)
	assert.Contains(t, out, "PENDING")
	assert.Contains(t, out, "sample.vcf")
}

func TestStatusNotFound(t *testing.T) {
	cfg := writeLocalConfig(t)

	_, err := execute(t, "--config", cfg, "status", "no-such-job")
	require.Error(t, err)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, ExitNotFound, exitErr.Code)
}

func TestSubmitRequiresUser(t *testing.T) {
	cfg := writeLocalConfig(t)
	_, err := execute(t, "--config", cfg, "submit", "sample.vcf")
	require.Error(t, err)
}

func TestConfigShow(t *testing.T) {
	cfg := writeLocalConfig(t)
	t.Setenv("GAS_AWS_SECRET_ACCESS_KEY", "do-not-print")

	out, err := execute(t, "--config", cfg, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: local")
	assert.Contains(t, out, "launcher: inline")
	assert.NotContains(t, out, "do-not-print")
}

func TestConfigShowInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gas.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: gcp\n"), 0o644))

	_, err := execute(t, "--config", path, "config", "show")
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, ExitConfig, exitErr.Code)
}

func TestLaunchesListEmpty(t *testing.T) {
	cfg := writeLocalConfig(t)

	out, err := execute(t, "--config", cfg, "launches", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No launches found")

	_, err = execute(t, "--config", cfg, "launches", "status", "abc")
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, ExitNotFound, exitErr.Code)
}

func TestVersionCommand(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()
	SetVersionInfo("1.2.3", "abc123", "2026-01-01")

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "gas 1.2.3")

	out, err = execute(t, "version", "--json")
	require.NoError(t, err)
	var info VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "abc123", info.Commit)
}
