package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// StartRefresher reloads the store on a cron schedule ("@every 30s",
// "*/5 * * * *", ...) until ctx is done.
func StartRefresher(ctx context.Context, store *Store, schedule string, logger *slog.Logger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := store.Refresh(ctx); err != nil && logger != nil {
			logger.Warn("scheduled rule refresh failed", "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("refresh schedule %q: %w", schedule, err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}
