package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"go.uber.org/zap"
)

func (r ReloadConfig) Validate() error {
	if r.Interval < 0 {
		return fmt.Errorf("reload.interval must be >= 0")
	}
	if strings.TrimSpace(r.Schedule) == "" {
		return nil
	}
	if _, err := cronexpr.Parse(r.Schedule); err != nil {
		return fmt.Errorf("reload.schedule: %w", err)
	}
	return nil
}

// RunSchedule re-applies the layers at every time matched by the cron
// expression spec until ctx is done.
func (m *Manager) RunSchedule(ctx context.Context, spec string) error {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse reload schedule %q: %w", spec, err)
	}
	for {
		next := expr.Next(time.Now())
		if next.IsZero() {
			return nil
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			if err := m.Reload(ctx); err != nil {
				m.logger.Warn("scheduled config reload failed", zap.String("schedule", spec), zap.Error(err))
			}
		}
	}
}

// RunReloader starts whichever reload loop rc selects and blocks until ctx is done.
func (m *Manager) RunReloader(ctx context.Context, rc ReloadConfig) error {
	if strings.TrimSpace(rc.Schedule) != "" {
		return m.RunSchedule(ctx, rc.Schedule)
	}
	m.Run(ctx, rc.Interval)
	return nil
}
