package repository

import (
	"context"
	"testing"
	"time"

	"github.com/maheshrc27/postqueue/internal/database/dbtest"
	"github.com/maheshrc27/postqueue/internal/errs"
	"github.com/maheshrc27/postqueue/internal/models"
	"github.com/stretchr/testify/require"
)

func newPublication(handle string, ct models.ContentType, at time.Time) *models.Publication {
	return &models.Publication{
		AccountHandle: handle,
		ContentType:   ct,
		MediaType:     models.MediaPhoto,
		MediaRefs:     []string{"/media/a.jpg", "/media/b.jpg"},
		Caption:       "hello",
		PublishTime:   at,
	}
}

func TestPublicationRepository_CreateGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewPublicationRepository(dbtest.New(t))

	at := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	p := newPublication("acct1", models.ContentPost, at)
	require.NoError(t, repo.Create(ctx, p))
	require.NotEmpty(t, p.ID)

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusQueued, got.Status)
	require.Equal(t, []string{"/media/a.jpg", "/media/b.jpg"}, got.MediaRefs)
	require.True(t, at.Equal(got.PublishTime))
	require.True(t, at.Equal(got.NotBefore))
	require.Nil(t, got.PublishedAt)
	require.Zero(t, got.Attempts)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestPublicationRepository_ListDue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewPublicationRepository(dbtest.New(t))
	now := time.Now()

	past := newPublication("acct1", models.ContentPost, now.Add(-time.Minute))
	future := newPublication("acct1", models.ContentPost, now.Add(time.Hour))
	held := newPublication("acct2", models.ContentStory, now.Add(-time.Second))
	for _, p := range []*models.Publication{past, future, held} {
		require.NoError(t, repo.Create(ctx, p))
	}
	ok, err := repo.Claim(ctx, held.ID, now, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	due, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, past.ID, due[0].ID)
}

func TestPublicationRepository_ClaimIsExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewPublicationRepository(dbtest.New(t))
	now := time.Now()

	p := newPublication("acct1", models.ContentPost, now.Add(-time.Second))
	require.NoError(t, repo.Create(ctx, p))

	claim := now.Add(time.Minute)
	ok, err := repo.Claim(ctx, p.ID, now, claim)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Claim(ctx, p.ID, now, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.False(t, ok)

	// stale claim token loses
	ok, err = repo.MarkFailed(ctx, p.ID, now, 1, "boom")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.MarkPublished(ctx, nil, p.ID, claim, 1, "m1", now)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPublished, got.Status)
	require.Equal(t, "m1", got.MediaID)
	require.NotNil(t, got.PublishedAt)
	require.True(t, got.LockedUntil.IsZero())
}

func TestPublicationRepository_CancelVersusClaim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewPublicationRepository(dbtest.New(t))
	now := time.Now()

	p := newPublication("acct1", models.ContentPost, now.Add(-time.Second))
	require.NoError(t, repo.Create(ctx, p))

	claim := now.Add(time.Minute)
	ok, err := repo.Claim(ctx, p.ID, now, claim)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Cancel(ctx, p.ID, now)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.Release(ctx, p.ID, claim, now.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Cancel(ctx, p.ID, now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Cancel(ctx, p.ID, now)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.Claim(ctx, p.ID, now, claim)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPublicationRepository_Reschedule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewPublicationRepository(dbtest.New(t))
	now := time.Now().Truncate(time.Millisecond)

	p := newPublication("acct1", models.ContentPost, now.Add(-time.Second))
	require.NoError(t, repo.Create(ctx, p))

	claim := now.Add(time.Minute)
	_, err := repo.Claim(ctx, p.ID, now, claim)
	require.NoError(t, err)

	next := now.Add(2 * time.Minute)
	ok, err := repo.Reschedule(ctx, p.ID, claim, 1, next)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusQueued, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.True(t, next.Equal(got.NotBefore))
	require.True(t, p.PublishTime.Equal(got.PublishTime))
	require.Empty(t, got.ErrorMessage)

	due, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestPublicationRepository_SetItemsDone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewPublicationRepository(dbtest.New(t))
	now := time.Now().Truncate(time.Millisecond)

	p := newPublication("acct1", models.ContentStory, now.Add(-time.Second))
	require.NoError(t, repo.Create(ctx, p))

	claim := now.Add(time.Minute)
	ok, err := repo.SetItemsDone(ctx, p.ID, claim, 1)
	require.NoError(t, err)
	require.False(t, ok, "needs the claim")

	_, err = repo.Claim(ctx, p.ID, now, claim)
	require.NoError(t, err)
	ok, err = repo.SetItemsDone(ctx, p.ID, claim, 2)
	require.NoError(t, err)
	require.True(t, ok)

	// progress survives a retry
	ok, err = repo.Reschedule(ctx, p.ID, claim, 1, now)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.ItemsDone)
	require.Equal(t, 1, got.Attempts)
}

func TestPublicationRepository_ListAndCounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewPublicationRepository(dbtest.New(t))
	now := time.Now()

	post := newPublication("acct1", models.ContentPost, now.Add(-time.Second))
	story := newPublication("acct2", models.ContentStory, now.Add(-time.Second))
	reel := newPublication("acct1", models.ContentReel, now.Add(time.Hour))
	for _, p := range []*models.Publication{post, story, reel} {
		require.NoError(t, repo.Create(ctx, p))
	}

	claim := now.Add(time.Minute)
	_, err := repo.Claim(ctx, post.ID, now, claim)
	require.NoError(t, err)
	_, err = repo.MarkPublished(ctx, nil, post.ID, claim, 1, "m", now)
	require.NoError(t, err)
	_, err = repo.Claim(ctx, story.ID, now, claim)
	require.NoError(t, err)
	_, err = repo.MarkFailed(ctx, story.ID, claim, 3, "gave up")
	require.NoError(t, err)

	list, err := repo.List(ctx, models.PublicationFilter{AccountHandle: "acct1"})
	require.NoError(t, err)
	require.Len(t, list, 2)

	list, err = repo.List(ctx, models.PublicationFilter{Status: models.StatusQueued, Limit: 5})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, reel.ID, list[0].ID)

	byStatus, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), byStatus[models.StatusPublished])
	require.Equal(t, int64(1), byStatus[models.StatusFailed])
	require.Equal(t, int64(1), byStatus[models.StatusQueued])

	byType, err := repo.CountByContentType(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), byType[models.ContentReel])

	m, err := repo.Summarize(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), m.PostsPublished)
	require.Zero(t, m.StoriesPublished)
	require.Equal(t, int64(1), m.FailedPublications)
}

func TestPublicationAttemptRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewPublicationAttemptRepository(dbtest.New(t))

	for i := 1; i <= 2; i++ {
		require.NoError(t, repo.Create(ctx, nil, &models.PublicationAttempt{
			PublicationID: "p1", Attempt: i, ErrorMessage: "timeout", Transient: true,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		}))
	}
	list, err := repo.ListByPublicationID(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, 1, list[0].Attempt)
	require.True(t, list[1].Transient)

	list, err = repo.ListByPublicationID(ctx, "p2")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestMetricsRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMetricsRepository(dbtest.New(t))

	_, err := repo.Latest(ctx)
	require.ErrorIs(t, err, errs.ErrNotFound)

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, &models.MetricsSnapshot{Date: day, PostsPublished: 3}))
	require.NoError(t, repo.Create(ctx, &models.MetricsSnapshot{Date: day.AddDate(0, 0, 1), ReelsPublished: 2}))

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), latest.ReelsPublished)

	week, err := repo.ListSince(ctx, day)
	require.NoError(t, err)
	require.Len(t, week, 2)
	require.Equal(t, int64(3), week[0].PostsPublished)
}
