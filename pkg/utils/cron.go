package utils

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// CronLogger routes cron's own messages to slog.
type CronLogger struct{}

var _ cron.Logger = CronLogger{}

func (CronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

// NewCron returns a cron runner that skips a job while its previous run is
// still going and survives panics in jobs.
func NewCron() *cron.Cron {
	logger := CronLogger{}
	return cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
}
