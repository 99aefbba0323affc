package cmd

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hklu21/Genomics-Analysis-Service/internal/config"
	"github.com/hklu21/Genomics-Analysis-Service/internal/observability"
	"github.com/hklu21/Genomics-Analysis-Service/internal/server"
	"github.com/hklu21/Genomics-Analysis-Service/internal/server/handlers"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/queue"
)

// pollMaxAge is how long a consumer may go without a successful receive
// before /health reports it unhealthy.
func pollMaxAge(cfg *config.Config) time.Duration {
	return 3*cfg.Queues.WaitTime + time.Minute
}

// startHealth serves /health when health.addr is set. The returned wait
// function blocks until the server has stopped.
func startHealth(ctx context.Context, cfg *config.Config, consumers ...*queue.Consumer) (func(), error) {
	if cfg.Health.Addr == "" {
		return func() {}, nil
	}
	host, port, err := server.Parse(cfg.Health.Addr)
	if err != nil {
		return nil, exitError(ExitInvalidArgument, "Invalid health address", err)
	}

	m := handlers.InitHealthManager(versionInfo.Version)
	started := time.Now()
	for _, c := range consumers {
		m.RegisterChecker("consumer:"+c.Name(), handlers.PollChecker{
			LastPoll: c.LastPoll,
			MaxAge:   pollMaxAge(cfg),
			Since:    started,
		})
	}

	srv := server.New(host, port)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx); err != nil {
			observability.CLILogger.Error("Health server failed", zap.String("addr", srv.Addr()), zap.Error(err))
		}
	}()
	return wg.Wait, nil
}

// runConsumers runs every consumer until ctx is canceled.
func runConsumers(ctx context.Context, consumers ...*queue.Consumer) {
	var wg sync.WaitGroup
	for _, c := range consumers {
		wg.Add(1)
		go func(c *queue.Consumer) {
			defer wg.Done()
			_ = c.Run(ctx)
		}(c)
	}
	wg.Wait()
}
