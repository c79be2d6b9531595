package daemon

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Housekeeping runs periodic maintenance: pruning call history past its
// retention window and reaping exited launched processes.
type Housekeeping struct {
	daemon *Daemon
	cron   *cron.Cron
}

// NewHousekeeping creates the maintenance scheduler from the configured
// cron expression.
func NewHousekeeping(d *Daemon) (*Housekeeping, error) {
	h := &Housekeeping{
		daemon: d,
		cron:   cron.New(),
	}

	schedule := d.config.Housekeeping.Schedule
	if schedule == "" {
		schedule = "@hourly"
	}

	if _, err := h.cron.AddFunc(schedule, h.runOnce); err != nil {
		return nil, fmt.Errorf("invalid housekeeping schedule %q: %w", schedule, err)
	}

	return h, nil
}

// Start begins the schedule
func (h *Housekeeping) Start() error {
	h.cron.Start()
	return nil
}

// Stop halts the schedule and waits briefly for a running job to finish
func (h *Housekeeping) Stop() {
	ctx := h.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		h.daemon.logger.Warn().Msg("Timeout waiting for housekeeping job to finish")
	}
}

// runOnce performs a single maintenance pass.
func (h *Housekeeping) runOnce() {
	log := h.daemon.logger.Component("housekeeping")

	reaped := h.daemon.processes.PruneExited(h.daemon.ctx)
	if reaped > 0 {
		log.Info().Int("reaped", reaped).Msg("Pruned exited processes")
	}

	retention := h.retention()
	if retention <= 0 {
		return
	}

	pruned, err := h.daemon.history.Prune(h.daemon.ctx, retention)
	if err != nil {
		log.Error().Err(err).Msg("History prune failed")
		return
	}
	if pruned > 0 {
		h.daemon.metrics.HistoryPrunedTotal.Add(float64(pruned))
		log.Info().Int64("pruned", pruned).Dur("retention", retention).Msg("Pruned call history")
	}
}

// retention converts the configured retention days to a duration; zero
// disables pruning.
func (h *Housekeeping) retention() time.Duration {
	days := h.daemon.config.History.RetentionDays
	if days <= 0 {
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}
