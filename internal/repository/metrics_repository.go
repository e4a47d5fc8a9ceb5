package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/maheshrc27/postqueue/internal/database"
	"github.com/maheshrc27/postqueue/internal/errs"
	"github.com/maheshrc27/postqueue/internal/models"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type MetricsRepository interface {
	Create(ctx context.Context, m *models.MetricsSnapshot) error
	Latest(ctx context.Context) (*models.MetricsSnapshot, error)
	ListSince(ctx context.Context, since time.Time) ([]*models.MetricsSnapshot, error)
}

type metricsRepository struct {
	db *database.DB
}

func NewMetricsRepository(db *database.DB) MetricsRepository {
	return &metricsRepository{db: db}
}

const metricsColumns = `id, date, posts_published, stories_published, reels_published, failed_publications, active_accounts`

func scanMetrics(row scanner) (*models.MetricsSnapshot, error) {
	var m models.MetricsSnapshot
	var date int64
	err := row.Scan(&m.ID, &date, &m.PostsPublished, &m.StoriesPublished, &m.ReelsPublished,
		&m.FailedPublications, &m.ActiveAccounts)
	if err != nil {
		return nil, err
	}
	m.Date = database.FromMillis(date)
	return &m, nil
}

func (r *metricsRepository) Create(ctx context.Context, m *models.MetricsSnapshot) error {
	id, err := gonanoid.New()
	if err != nil {
		return err
	}
	m.ID = id

	query := `
		INSERT INTO metrics (` + metricsColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.ExecContext(ctx, r.db.Rebind(query),
		m.ID, database.Millis(m.Date), m.PostsPublished, m.StoriesPublished, m.ReelsPublished,
		m.FailedPublications, m.ActiveAccounts)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *metricsRepository) Latest(ctx context.Context) (*models.MetricsSnapshot, error) {
	query := `SELECT ` + metricsColumns + ` FROM metrics ORDER BY date DESC LIMIT 1`
	m, err := scanMetrics(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		slog.Info(err.Error())
		return nil, err
	}
	return m, nil
}

// ListSince returns snapshots dated at or after since, oldest first.
func (r *metricsRepository) ListSince(ctx context.Context, since time.Time) ([]*models.MetricsSnapshot, error) {
	query := `SELECT ` + metricsColumns + ` FROM metrics WHERE date >= $1 ORDER BY date`
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), database.Millis(since))
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var out []*models.MetricsSnapshot
	for rows.Next() {
		m, err := scanMetrics(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
