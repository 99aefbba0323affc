package pipeline

import (
	"io"
	"os"

	"github.com/hklu21/Genomics-Analysis-Service/internal/config"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/archive"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/dispatch"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/execution"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/handoff"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/reaper"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/restore"
)

// Tool returns the configured annotation command writing to stdout and
// stderr.
func (p *Pipeline) Tool(stdout, stderr io.Writer) execution.Tool {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return execution.CommandTool{Command: p.Config.Execution.Command, Stdout: stdout, Stderr: stderr}
}

// Stage builds the execution stage around tool.
func (p *Pipeline) Stage(tool execution.Tool) (*execution.Stage, error) {
	return execution.New(execution.Deps{
		Store:         p.Store,
		Results:       p.Results,
		ResultsBucket: p.Config.Storage.ResultsBucket,
		Profiles:      p.Profiles,
		Publisher:     p.Publisher,
		ResultsTopic:  p.Config.Topics.Results,
		Workspace:     p.Workspace,
		Tool:          tool,
		Logger:        p.Logger.Named("execute"),
		Now:           p.now,
	})
}

// Launcher builds the configured launcher. The process launcher re-invokes
// this binary with globalArgs; the inline launcher runs a Stage around tool,
// on its own goroutine when async is set.
func (p *Pipeline) Launcher(globalArgs []string, tool execution.Tool, async bool) (handoff.Launcher, error) {
	logger := p.Logger.Named("launcher")
	if p.Config.Execution.Launcher == config.LauncherInline {
		stage, err := p.Stage(tool)
		if err != nil {
			return nil, err
		}
		return &handoff.InlineLauncher{Store: p.Launches, Run: stage.Run, Async: async, Logger: logger}, nil
	}
	return handoff.NewProcessLauncher(p.Launches, globalArgs, logger)
}

// Dispatcher builds the dispatch worker.
func (p *Pipeline) Dispatcher(l handoff.Launcher) (*dispatch.Worker, error) {
	return dispatch.New(dispatch.Deps{
		Store:     p.Store,
		Inputs:    p.Inputs,
		Workspace: p.Workspace,
		Launcher:  l,
		Logger:    p.Logger.Named("dispatch"),
		Now:       p.now,
	})
}

// Sweeper builds the archive sweeper.
func (p *Pipeline) Sweeper() (*archive.Sweeper, error) {
	cfg := p.Config
	return archive.New(archive.Config{
		ResultsPrefix: cfg.Storage.Prefix,
		Pattern:       cfg.Sweep.Pattern,
		ResultsBucket: cfg.Storage.ResultsBucket,
		GracePeriod:   cfg.Sweep.GracePeriod,
		RateLimit:     cfg.Sweep.RateLimit,
		ArchiveTopic:  cfg.Topics.Archive,
	}, archive.Deps{
		Store:     p.Store,
		Results:   p.Results,
		Vault:     p.Vault,
		Profiles:  p.Profiles,
		Publisher: p.Publisher,
		Workspace: p.Workspace,
		Logger:    p.Logger.Named("sweep"),
		Now:       p.now,
	})
}

// Initiator builds the restore initiator.
func (p *Pipeline) Initiator() (*restore.Initiator, error) {
	return restore.NewInitiator(restore.InitiatorDeps{
		Store:        p.Store,
		Vault:        p.Vault,
		Profiles:     p.Profiles,
		Publisher:    p.Publisher,
		Logger:       p.Logger.Named("restore"),
		RestoreTopic: p.Config.Topics.Restore,
	})
}

// Thawer builds the thaw finalizer.
func (p *Pipeline) Thawer() (*restore.Thawer, error) {
	return restore.NewThawer(restore.ThawerDeps{
		Store:         p.Store,
		Results:       p.Results,
		Vault:         p.Vault,
		Workspace:     p.Workspace,
		Logger:        p.Logger.Named("thaw"),
		NotReadyDelay: p.Config.Queues.NotReadyDelay,
		Now:           p.now,
	})
}

// Reaper builds the stale-job reaper.
func (p *Pipeline) Reaper() (*reaper.Reaper, error) {
	cfg := p.Config
	return reaper.New(reaper.Config{
		StaleAfter:    cfg.Reaper.StaleAfter,
		MaxAttempts:   cfg.Reaper.MaxAttempts,
		RequestsTopic: cfg.Topics.Requests,
	}, p.Store, p.Publisher, p.Logger.Named("reap"), p.now)
}

// UpgradeRequest names where restore requests for userID go.
func (p *Pipeline) UpgradeRequest(userID string) restore.UpgradeRequest {
	return restore.UpgradeRequest{
		UserID:        userID,
		ArchiveTopic:  p.Config.Topics.Archive,
		VaultName:     p.Vault.Name(),
		ResultsBucket: p.Config.Storage.ResultsBucket,
	}
}
