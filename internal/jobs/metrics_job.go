package job

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maheshrc27/postqueue/internal/models"
	"github.com/maheshrc27/postqueue/internal/notify"
	"github.com/maheshrc27/postqueue/internal/repository"
)

const day = 24 * time.Hour

// MetricsJob rolls publishing activity up into daily snapshots and a weekly
// report for the operator.
type MetricsJob struct {
	pr       repository.PublicationRepository
	ar       repository.AccountRepository
	mr       repository.MetricsRepository
	notifier notify.Notifier

	now func() time.Time
}

func NewMetricsJob(
	pr repository.PublicationRepository,
	ar repository.AccountRepository,
	mr repository.MetricsRepository,
	notifier notify.Notifier) *MetricsJob {
	return &MetricsJob{
		pr:       pr,
		ar:       ar,
		mr:       mr,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SnapshotYesterday is the cron entry for the daily roll-up.
func (j *MetricsJob) SnapshotYesterday() {
	ctx := context.Background()
	if _, err := j.Snapshot(ctx, j.now().Add(-day)); err != nil {
		slog.Info(err.Error())
	}
}

// Snapshot stores the roll-up of the UTC day containing t.
func (j *MetricsJob) Snapshot(ctx context.Context, t time.Time) (*models.MetricsSnapshot, error) {
	from := t.UTC().Truncate(day)
	m, err := j.pr.Summarize(ctx, from, from.Add(day))
	if err != nil {
		return nil, fmt.Errorf("summarize %s: %w", from.Format(time.DateOnly), err)
	}
	_, active, err := j.ar.Count(ctx)
	if err != nil {
		return nil, err
	}
	m.ActiveAccounts = active

	if err := j.mr.Create(ctx, m); err != nil {
		return nil, err
	}
	slog.Info("metrics snapshot stored", "date", from.Format(time.DateOnly),
		"posts", m.PostsPublished, "stories", m.StoriesPublished, "reels", m.ReelsPublished,
		"failed", m.FailedPublications)
	return m, nil
}

// SendWeeklyReport is the cron entry for the weekly report.
func (j *MetricsJob) SendWeeklyReport() {
	ctx := context.Background()
	if _, err := j.WeeklyReport(ctx); err != nil {
		slog.Info(err.Error())
	}
}

// WeeklyReport summarizes the last seven days and hands the text to the notifier.
func (j *MetricsJob) WeeklyReport(ctx context.Context) (string, error) {
	now := j.now()
	m, err := j.pr.Summarize(ctx, now.Add(-7*day), now)
	if err != nil {
		return "", err
	}
	total, active, err := j.ar.Count(ctx)
	if err != nil {
		return "", err
	}
	byStatus, err := j.pr.CountByStatus(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Weekly report (%s to %s)\n", now.Add(-7*day).Format(time.DateOnly), now.Format(time.DateOnly))
	fmt.Fprintf(&b, "Published: %d posts, %d stories, %d reels\n", m.PostsPublished, m.StoriesPublished, m.ReelsPublished)
	fmt.Fprintf(&b, "Failed: %d\n", m.FailedPublications)
	fmt.Fprintf(&b, "Queued: %d\n", byStatus[models.StatusQueued])
	fmt.Fprintf(&b, "Accounts: %d active of %d", active, total)
	text := b.String()

	j.notifier.Notify(notify.Event{Kind: notify.KindReport, Text: text, At: now})
	return text, nil
}
