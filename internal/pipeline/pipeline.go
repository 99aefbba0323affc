// Package pipeline builds the job store, storage tiers, queues and pipeline
// components described by a config.Config, for either the aws or the local
// backend.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"go.uber.org/zap"

	"github.com/hklu21/Genomics-Analysis-Service/internal/awsconf"
	"github.com/hklu21/Genomics-Analysis-Service/internal/config"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/coldstore"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/coldstore/glacier"
	localvault "github.com/hklu21/Genomics-Analysis-Service/pkg/coldstore/local"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/handoff"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore/dynamo"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore/sqlite"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/notify"
	localnotify "github.com/hklu21/Genomics-Analysis-Service/pkg/notify/local"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/notify/sns"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/profile"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/provider"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/provider/file"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/provider/s3"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/queue"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/queue/sqlitequeue"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/queue/sqs"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/workspace"
)

// Pipeline holds the shared resources every command builds components from.
type Pipeline struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     jobstore.Store
	Inputs    provider.ObjectStore
	Results   provider.ObjectStore
	Vault     coldstore.Vault
	Publisher notify.Publisher
	Profiles  profile.Directory
	Workspace *workspace.Workspace
	Launches  *handoff.Store

	now     func() time.Time
	awsCfg  aws.Config
	queueDB *sqlitequeue.DB
	closers []func() error
}

// Option customizes Build.
type Option func(*Pipeline)

// WithClock replaces time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithProfiles replaces the profile directory named in the config.
func WithProfiles(d profile.Directory) Option {
	return func(p *Pipeline) { p.Profiles = d }
}

// Build opens every shared resource for cfg. The caller must Close the
// pipeline.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{Config: cfg, Logger: logger, now: time.Now}
	for _, o := range opts {
		o(p)
	}

	var err error
	switch cfg.Backend {
	case config.BackendAWS:
		err = p.buildAWS(ctx)
	case config.BackendLocal:
		err = p.buildLocal(ctx)
	}
	if err == nil {
		err = p.buildShared()
	}
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	logger.Debug("Pipeline ready",
		zap.String("backend", cfg.Backend),
		zap.String("vault", p.Vault.Name()),
		zap.String("jobs_dir", p.Workspace.Root()))
	return p, nil
}

func (p *Pipeline) buildAWS(ctx context.Context) error {
	cfg := p.Config
	awsCfg, err := awsconf.Load(ctx, cfg.AWS)
	if err != nil {
		return err
	}
	p.awsCfg = awsCfg

	store, err := dynamo.NewFromConfig(awsCfg, dynamo.Config{Table: cfg.Store.Table, UserIndex: cfg.Store.UserIndex})
	if err != nil {
		return err
	}
	p.Store = store
	p.closers = append(p.closers, store.Close)

	if p.Inputs, err = s3.New(awsCfg, s3.Config{Bucket: cfg.Storage.InputsBucket, ForcePathStyle: cfg.AWS.ForcePathStyle}); err != nil {
		return fmt.Errorf("inputs bucket: %w", err)
	}
	if p.Results, err = s3.New(awsCfg, s3.Config{Bucket: cfg.Storage.ResultsBucket, ForcePathStyle: cfg.AWS.ForcePathStyle}); err != nil {
		return fmt.Errorf("results bucket: %w", err)
	}
	if p.Vault, err = glacier.New(awsCfg, glacier.Config{Vault: cfg.Vault.Name, Tier: cfg.Vault.RetrievalTier}); err != nil {
		return err
	}
	p.Publisher = sns.New(awsCfg)
	return nil
}

func (p *Pipeline) buildLocal(ctx context.Context) error {
	cfg := p.Config
	store, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
	if err != nil {
		return err
	}
	p.Store = store
	p.closers = append(p.closers, store.Close)

	if p.Inputs, err = file.New(file.Config{BaseDir: filepath.Join(cfg.Storage.LocalDir, cfg.Storage.InputsBucket)}); err != nil {
		return fmt.Errorf("inputs bucket: %w", err)
	}
	if p.Results, err = file.New(file.Config{BaseDir: filepath.Join(cfg.Storage.LocalDir, cfg.Storage.ResultsBucket)}); err != nil {
		return fmt.Errorf("results bucket: %w", err)
	}

	vault, err := localvault.New(localvault.Config{
		Dir:            cfg.Vault.LocalDir,
		Name:           cfg.Vault.Name,
		RetrievalDelay: cfg.Vault.LocalRetrievalDelay,
	})
	if err != nil {
		return err
	}
	vault.SetClock(p.now)
	p.Vault = vault

	qdb, err := sqlitequeue.Open(ctx, p.queuePath())
	if err != nil {
		return err
	}
	p.queueDB = qdb
	p.closers = append(p.closers, qdb.Close)

	fanout := localnotify.New(p.Logger.Named("fanout"))
	for topic, queues := range cfg.Local.Subscriptions {
		for _, name := range queues {
			fanout.Subscribe(topic, p.localQueue(name))
		}
	}
	p.Publisher = fanout
	return nil
}

func (p *Pipeline) buildShared() error {
	cfg := p.Config
	if p.Profiles == nil {
		if cfg.Profiles.File == "" {
			p.Logger.Warn("No profiles file configured; every owner is unknown")
			p.Profiles = profile.Static{}
		} else {
			dir, err := profile.NewFileDirectory(cfg.Profiles.File)
			if err != nil {
				return err
			}
			p.Profiles = dir
		}
	}

	ws, err := workspace.New(cfg.Execution.JobsDir)
	if err != nil {
		return err
	}
	p.Workspace = ws
	p.Launches = handoff.NewStore(ws.LaunchRoot())
	return nil
}

func (p *Pipeline) queuePath() string {
	if p.Config.Local.QueuePath != "" {
		return p.Config.Local.QueuePath
	}
	return filepath.Join(filepath.Dir(p.Config.Store.SQLitePath), "queues.db")
}

func (p *Pipeline) queueOptions() queue.Options {
	q := p.Config.Queues
	return queue.Options{WaitTime: q.WaitTime, VisibilityTimeout: q.VisibilityTimeout, MaxMessages: q.MaxMessages}
}

func (p *Pipeline) localQueue(name string) *sqlitequeue.Queue {
	return p.queueDB.Queue(name, p.queueOptions(), p.Config.Local.PollInterval)
}

// Queue opens the queue called name (an SQS URL on aws).
func (p *Pipeline) Queue(name string) (queue.Queue, error) {
	if name == "" {
		return nil, errors.New("pipeline: queue name is empty")
	}
	if p.queueDB != nil {
		return p.localQueue(name), nil
	}
	return sqs.New(p.awsCfg, name, p.queueOptions())
}

// Consumer opens a consumer on the queue called name.
func (p *Pipeline) Consumer(name string) (*queue.Consumer, error) {
	q, err := p.Queue(name)
	if err != nil {
		return nil, err
	}
	return queue.NewConsumer(q, queue.ConsumerConfig{MaxReceives: p.Config.Queues.MaxReceives}, p.Logger.Named("consumer")), nil
}

// Depth reports the number of messages in a local queue. It returns -1 on
// the aws backend.
func (p *Pipeline) Depth(ctx context.Context, name string) (int, error) {
	if p.queueDB == nil {
		return -1, nil
	}
	return p.queueDB.Depth(ctx, name)
}

// Now returns the pipeline clock's current time.
func (p *Pipeline) Now() time.Time { return p.now() }

// Close releases every resource Build opened.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}
