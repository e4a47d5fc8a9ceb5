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

func TestAccountRepository_UpsertAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewAccountRepository(dbtest.New(t))

	a := &models.Account{Handle: "acct1", EncryptedPassword: "enc", ExternalID: "42", SessionState: "s1"}
	require.NoError(t, repo.Upsert(ctx, nil, a))
	require.NotEmpty(t, a.ID)
	require.True(t, a.Active)

	got, err := repo.GetByHandle(ctx, "acct1")
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
	require.Equal(t, "42", got.ExternalID)
	require.Equal(t, models.VerificationNone, got.VerificationMethod)
	require.Equal(t, "s1", got.SessionState)
	require.True(t, got.Active)

	_, err = repo.GetByHandle(ctx, "nobody")
	require.ErrorIs(t, err, errs.ErrAccountNotFound)
}

func TestAccountRepository_ReactivateKeepsHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewAccountRepository(dbtest.New(t))

	a := &models.Account{Handle: "acct1", EncryptedPassword: "old"}
	require.NoError(t, repo.Upsert(ctx, nil, a))
	require.NoError(t, repo.RecordPublish(ctx, nil, "acct1", models.ContentReel, time.Now()))

	ok, err := repo.Deactivate(ctx, "acct1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.Deactivate(ctx, "acct1")
	require.NoError(t, err)
	require.False(t, ok)

	got, err := repo.GetByHandle(ctx, "acct1")
	require.NoError(t, err)
	require.False(t, got.Active)
	require.Empty(t, got.SessionState)

	again := &models.Account{Handle: "acct1", EncryptedPassword: "new", VerificationMethod: models.VerificationSMS}
	require.NoError(t, repo.Upsert(ctx, nil, again))
	require.Equal(t, a.ID, again.ID)
	require.Equal(t, int64(1), again.ReelsCount)

	got, err = repo.GetByHandle(ctx, "acct1")
	require.NoError(t, err)
	require.True(t, got.Active)
	require.Equal(t, "new", got.EncryptedPassword)
	require.Equal(t, models.VerificationSMS, got.VerificationMethod)

	total, active, err := repo.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, int64(1), active)
}

func TestAccountRepository_RecordPublish(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewAccountRepository(dbtest.New(t))

	require.NoError(t, repo.Upsert(ctx, nil, &models.Account{Handle: "acct1", EncryptedPassword: "x"}))

	at := time.Now().Truncate(time.Millisecond)
	require.NoError(t, repo.RecordPublish(ctx, nil, "acct1", models.ContentPost, at))
	require.NoError(t, repo.RecordPublish(ctx, nil, "acct1", models.ContentPost, at))
	require.NoError(t, repo.RecordPublish(ctx, nil, "acct1", models.ContentStory, at))

	got, err := repo.GetByHandle(ctx, "acct1")
	require.NoError(t, err)
	require.Equal(t, int64(2), got.PostsCount)
	require.Equal(t, int64(1), got.StoriesCount)
	require.Zero(t, got.ReelsCount)
	require.True(t, at.Equal(got.LastUsed))

	require.ErrorIs(t, repo.RecordPublish(ctx, nil, "ghost", models.ContentPost, at), errs.ErrAccountNotFound)
	require.Error(t, repo.RecordPublish(ctx, nil, "acct1", models.ContentType("tweet"), at))
}

func TestAccountRepository_ListActiveOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewAccountRepository(dbtest.New(t))

	for _, h := range []string{"b", "a", "c"} {
		require.NoError(t, repo.Upsert(ctx, nil, &models.Account{Handle: h, EncryptedPassword: "x"}))
	}
	_, err := repo.Deactivate(ctx, "b")
	require.NoError(t, err)

	all, err := repo.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "a", all[0].Handle)

	active, err := repo.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "c", active[1].Handle)
}
