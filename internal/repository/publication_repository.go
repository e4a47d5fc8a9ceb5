package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maheshrc27/postqueue/internal/database"
	"github.com/maheshrc27/postqueue/internal/errs"
	"github.com/maheshrc27/postqueue/internal/models"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// PublicationRepository owns the publications table. Every status transition out
// of queued is a conditional update: it only applies while the row is still queued
// (and, for the scheduler, still held under the caller's claim), and reports
// whether it won.
type PublicationRepository interface {
	Create(ctx context.Context, p *models.Publication) error
	GetByID(ctx context.Context, id string) (*models.Publication, error)
	List(ctx context.Context, f models.PublicationFilter) ([]*models.Publication, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Publication, error)

	Claim(ctx context.Context, id string, now, until time.Time) (bool, error)
	Release(ctx context.Context, id string, claim, notBefore time.Time) (bool, error)
	Reschedule(ctx context.Context, id string, claim time.Time, attempts int, notBefore time.Time) (bool, error)
	SetItemsDone(ctx context.Context, id string, claim time.Time, done int) (bool, error)
	MarkPublished(ctx context.Context, tx *sql.Tx, id string, claim time.Time, attempts int, mediaID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, claim time.Time, attempts int, message string) (bool, error)
	Cancel(ctx context.Context, id string, now time.Time) (bool, error)

	CountByStatus(ctx context.Context) (map[models.PublicationStatus]int64, error)
	CountByContentType(ctx context.Context) (map[models.ContentType]int64, error)
	Summarize(ctx context.Context, from, to time.Time) (*models.MetricsSnapshot, error)
}

type publicationRepository struct {
	db *database.DB
}

func NewPublicationRepository(db *database.DB) PublicationRepository {
	return &publicationRepository{db: db}
}

const publicationColumns = `id, account_handle, content_type, media_type, media_refs, caption,
	publish_time, not_before, status, attempts, items_done, error_message, media_id, locked_until,
	created_at, updated_at, published_at`

func scanPublication(row scanner) (*models.Publication, error) {
	var p models.Publication
	var refs string
	var publishTime, notBefore, lockedUntil, createdAt, updatedAt int64
	var publishedAt sql.NullInt64

	err := row.Scan(&p.ID, &p.AccountHandle, &p.ContentType, &p.MediaType, &refs, &p.Caption,
		&publishTime, &notBefore, &p.Status, &p.Attempts, &p.ItemsDone, &p.ErrorMessage, &p.MediaID, &lockedUntil,
		&createdAt, &updatedAt, &publishedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(refs), &p.MediaRefs); err != nil {
		return nil, fmt.Errorf("decode media refs of %s: %w", p.ID, err)
	}
	p.PublishTime = database.FromMillis(publishTime)
	p.NotBefore = database.FromMillis(notBefore)
	p.LockedUntil = database.FromMillis(lockedUntil)
	p.CreatedAt = database.FromMillis(createdAt)
	p.UpdatedAt = database.FromMillis(updatedAt)
	if publishedAt.Valid {
		t := database.FromMillis(publishedAt.Int64)
		p.PublishedAt = &t
	}
	return &p, nil
}

func (r *publicationRepository) Create(ctx context.Context, p *models.Publication) error {
	if p.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return err
		}
		p.ID = id
	}
	refs, err := json.Marshal(p.MediaRefs)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	p.Status = models.StatusQueued
	p.NotBefore = p.PublishTime
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO publications (id, account_handle, content_type, media_type, media_refs, caption,
			publish_time, not_before, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8, $9, $9)
	`
	_, err = r.db.ExecContext(ctx, r.db.Rebind(query),
		p.ID, p.AccountHandle, string(p.ContentType), string(p.MediaType), string(refs), p.Caption,
		database.Millis(p.PublishTime), string(p.Status), database.Millis(now))
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *publicationRepository) GetByID(ctx context.Context, id string) (*models.Publication, error) {
	query := `SELECT ` + publicationColumns + ` FROM publications WHERE id = $1`
	p, err := scanPublication(r.db.QueryRowContext(ctx, r.db.Rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		slog.Info(err.Error())
		return nil, err
	}
	return p, nil
}

func (r *publicationRepository) List(ctx context.Context, f models.PublicationFilter) ([]*models.Publication, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.AccountHandle != "" {
		add("account_handle = $%d", f.AccountHandle)
	}
	if f.ContentType != "" {
		add("content_type = $%d", string(f.ContentType))
	}

	query := `SELECT ` + publicationColumns + ` FROM publications`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY publish_time, created_at`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	return r.query(ctx, query, args...)
}

// ListDue returns queued publications whose publish time and retry delay have
// both passed and that no scheduler currently holds.
func (r *publicationRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Publication, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + publicationColumns + `
		FROM publications
		WHERE status = $1 AND publish_time <= $2 AND not_before <= $2 AND locked_until <= $2
		ORDER BY not_before, created_at
		LIMIT $3
	`
	return r.query(ctx, query, string(models.StatusQueued), database.Millis(now), limit)
}

func (r *publicationRepository) query(ctx context.Context, query string, args ...any) ([]*models.Publication, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var publications []*models.Publication
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		publications = append(publications, p)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return publications, nil
}

// Claim takes a lease on a queued publication until the given time. The lease
// end doubles as the claim token for the follow-up transition.
func (r *publicationRepository) Claim(ctx context.Context, id string, now, until time.Time) (bool, error) {
	query := `
		UPDATE publications
		SET locked_until = $2,
			updated_at = $3
		WHERE id = $1 AND status = $4 AND locked_until <= $3
	`
	return r.exec(ctx, nil, query, id, database.Millis(until), database.Millis(now), string(models.StatusQueued))
}

// Release drops the claim and defers the publication without consuming an attempt.
func (r *publicationRepository) Release(ctx context.Context, id string, claim, notBefore time.Time) (bool, error) {
	query := `
		UPDATE publications
		SET locked_until = 0,
			not_before = $3,
			updated_at = $4
		WHERE id = $1 AND status = $5 AND locked_until = $2
	`
	return r.exec(ctx, nil, query, id, database.Millis(claim), database.Millis(notBefore),
		database.Millis(time.Now()), string(models.StatusQueued))
}

// Reschedule records a failed attempt and keeps the publication queued until notBefore.
func (r *publicationRepository) Reschedule(ctx context.Context, id string, claim time.Time, attempts int, notBefore time.Time) (bool, error) {
	query := `
		UPDATE publications
		SET locked_until = 0,
			attempts = $3,
			not_before = $4,
			updated_at = $5
		WHERE id = $1 AND status = $6 AND locked_until = $2
	`
	return r.exec(ctx, nil, query, id, database.Millis(claim), attempts, database.Millis(notBefore),
		database.Millis(time.Now()), string(models.StatusQueued))
}

// SetItemsDone records how many media items of a multi-step upload are already
// live, so a retry can resume after them.
func (r *publicationRepository) SetItemsDone(ctx context.Context, id string, claim time.Time, done int) (bool, error) {
	query := `
		UPDATE publications
		SET items_done = $3,
			updated_at = $4
		WHERE id = $1 AND status = $5 AND locked_until = $2
	`
	return r.exec(ctx, nil, query, id, database.Millis(claim), done,
		database.Millis(time.Now()), string(models.StatusQueued))
}

func (r *publicationRepository) MarkPublished(ctx context.Context, tx *sql.Tx, id string, claim time.Time, attempts int, mediaID string, at time.Time) (bool, error) {
	query := `
		UPDATE publications
		SET status = $3,
			locked_until = 0,
			attempts = $4,
			media_id = $5,
			error_message = '',
			published_at = $6,
			updated_at = $6
		WHERE id = $1 AND status = $7 AND locked_until = $2
	`
	return r.exec(ctx, tx, query, id, database.Millis(claim), string(models.StatusPublished), attempts, mediaID,
		database.Millis(at), string(models.StatusQueued))
}

func (r *publicationRepository) MarkFailed(ctx context.Context, id string, claim time.Time, attempts int, message string) (bool, error) {
	query := `
		UPDATE publications
		SET status = $3,
			locked_until = 0,
			attempts = $4,
			error_message = $5,
			updated_at = $6
		WHERE id = $1 AND status = $7 AND locked_until = $2
	`
	return r.exec(ctx, nil, query, id, database.Millis(claim), string(models.StatusFailed), attempts, message,
		database.Millis(time.Now()), string(models.StatusQueued))
}

// Cancel moves a queued publication that no scheduler holds to cancelled.
func (r *publicationRepository) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE publications
		SET status = $2,
			updated_at = $3
		WHERE id = $1 AND status = $4 AND locked_until <= $3
	`
	return r.exec(ctx, nil, query, id, string(models.StatusCancelled), database.Millis(now), string(models.StatusQueued))
}

func (r *publicationRepository) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	result, err := conn(r.db, tx).ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

func (r *publicationRepository) CountByStatus(ctx context.Context) (map[models.PublicationStatus]int64, error) {
	out := map[models.PublicationStatus]int64{}
	err := r.countBy(ctx, "status", func(k string, n int64) { out[models.PublicationStatus(k)] = n })
	return out, err
}

func (r *publicationRepository) CountByContentType(ctx context.Context) (map[models.ContentType]int64, error) {
	out := map[models.ContentType]int64{}
	err := r.countBy(ctx, "content_type", func(k string, n int64) { out[models.ContentType(k)] = n })
	return out, err
}

func (r *publicationRepository) countBy(ctx context.Context, column string, fn func(string, int64)) error {
	rows, err := r.db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM publications GROUP BY `+column)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			slog.Info(err.Error())
			return err
		}
		fn(k, n)
	}
	return rows.Err()
}

// Summarize counts publications that were published, or that failed for good,
// within [from, to).
func (r *publicationRepository) Summarize(ctx context.Context, from, to time.Time) (*models.MetricsSnapshot, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN status = $3 AND content_type = $4 AND published_at >= $1 AND published_at < $2 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = $3 AND content_type = $5 AND published_at >= $1 AND published_at < $2 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = $3 AND content_type = $6 AND published_at >= $1 AND published_at < $2 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = $7 AND updated_at >= $1 AND updated_at < $2 THEN 1 ELSE 0 END), 0)
		FROM publications
	`
	var m models.MetricsSnapshot
	err := r.db.QueryRowContext(ctx, r.db.Rebind(query),
		database.Millis(from), database.Millis(to),
		string(models.StatusPublished),
		string(models.ContentPost), string(models.ContentStory), string(models.ContentReel),
		string(models.StatusFailed),
	).Scan(&m.PostsPublished, &m.StoriesPublished, &m.ReelsPublished, &m.FailedPublications)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	m.Date = from
	return &m, nil
}
