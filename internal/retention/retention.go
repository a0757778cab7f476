package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"ethiogram/pkg/config"
	"ethiogram/pkg/logger"
	"ethiogram/pkg/models"
	"ethiogram/pkg/store"
)

// Runner hard-purges tombstoned messages past the retention period. Deleted
// messages stay in the log as tombstones so clients can render placeholders;
// this is the process that eventually reclaims them.
type Runner struct {
	backend store.Backend
	cfg     config.RetentionConfig
}

// New builds a runner over the backend.
func New(backend store.Backend, cfg config.RetentionConfig) *Runner {
	return &Runner{backend: backend, cfg: cfg}
}

// Start launches the cron scheduler if retention is enabled. The returned
// cancel stops the scheduler.
func (r *Runner) Start(ctx context.Context) (context.CancelFunc, error) {
	if !r.cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := r.cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", r.cfg.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", r.cfg.Period.Std(), "dry_run", r.cfg.DryRun)
	ctx2, cancel := context.WithCancel(ctx)
	go r.schedule(ctx2, cronExpr)
	return cancel, nil
}

// schedule sleeps until each next cron tick and runs a purge pass.
func (r *Runner) schedule(ctx context.Context, cronExpr string) {
	for {
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}
		select {
		case <-time.After(time.Until(next)):
			if err := r.RunOnce(ctx); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce scans every conversation and deletes tombstones older than the
// retention period, in bounded batches. With DryRun set it only counts.
func (r *Runner) RunOnce(ctx context.Context) error {
	start := time.Now()
	cutoff := start.Add(-r.cfg.Period.Std()).UnixMilli()

	convs, err := r.backend.Conversations()
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	var scanned, purged int
	for _, convID := range convs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := r.purgeConversation(convID, cutoff)
		if err != nil {
			logger.Error("retention_conversation_failed", "conversation", convID, "error", err)
			continue
		}
		scanned++
		purged += n
	}
	logger.Info("retention_run_complete",
		"conversations", scanned,
		"purged", purged,
		"dry_run", r.cfg.DryRun,
		"elapsed", time.Since(start))
	return nil
}

func (r *Runner) purgeConversation(convID string, cutoff int64) (int, error) {
	raw, err := r.backend.List(convID, 0)
	if err != nil {
		return 0, err
	}
	batch := r.cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}
	var purged int
	for _, b := range raw {
		if purged >= batch {
			break
		}
		var m models.Message
		if err := json.Unmarshal(b, &m); err != nil {
			continue
		}
		if !m.Deleted || m.TS >= cutoff {
			continue
		}
		if r.cfg.DryRun {
			purged++
			continue
		}
		if err := r.backend.Delete(convID, m.Seq); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}
