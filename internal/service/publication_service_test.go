package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maheshrc27/postqueue/internal/database/dbtest"
	"github.com/maheshrc27/postqueue/internal/errs"
	"github.com/maheshrc27/postqueue/internal/media"
	"github.com/maheshrc27/postqueue/internal/models"
	"github.com/maheshrc27/postqueue/internal/repository"
	"github.com/stretchr/testify/require"
)

var (
	pngBytes = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}, make([]byte, 512)...)
	mp4Bytes = append([]byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 0x02, 0, 'i', 's', 'o', 'm', 'm', 'p', '4', '1'}, make([]byte, 512)...)
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

type publicationFixture struct {
	accounts     repository.AccountRepository
	publications repository.PublicationRepository
	svc          PublicationService
}

func newPublicationFixture(t *testing.T) *publicationFixture {
	t.Helper()
	db := dbtest.New(t)
	ar := repository.NewAccountRepository(db)
	pr := repository.NewPublicationRepository(db)
	local, err := media.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	svc := NewPublicationService(pr, repository.NewPublicationAttemptRepository(db), ar,
		media.NewValidator(1<<20, nil, nil), media.NewStorage(local, nil))

	require.NoError(t, ar.Upsert(context.Background(), nil, &models.Account{Handle: "acct1", EncryptedPassword: "x"}))
	return &publicationFixture{accounts: ar, publications: pr, svc: svc}
}

func TestPublicationService_Enqueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newPublicationFixture(t)
	photo := writeFile(t, "a.png", pngBytes)

	at := time.Now().Add(time.Hour)
	p, err := f.svc.Enqueue(ctx, &models.PublicationDraft{
		AccountHandle: "@acct1",
		ContentType:   models.ContentPost,
		MediaType:     models.MediaPhoto,
		MediaRefs:     []string{photo, photo},
		Caption:       "album",
		PublishTime:   at,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusQueued, p.Status)
	require.Equal(t, "acct1", p.AccountHandle)

	list, err := f.svc.ListQueue(ctx, models.PublicationFilter{Status: models.StatusQueued})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, list[0].MediaRefs, 2)
}

func TestPublicationService_EnqueueValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newPublicationFixture(t)
	photo := writeFile(t, "a.png", pngBytes)
	video := writeFile(t, "a.mp4", mp4Bytes)

	cases := map[string]models.PublicationDraft{
		"no account":      {ContentType: models.ContentPost, MediaType: models.MediaPhoto, MediaRefs: []string{photo}},
		"bad type":        {AccountHandle: "acct1", ContentType: "tweet", MediaType: models.MediaPhoto, MediaRefs: []string{photo}},
		"no media":        {AccountHandle: "acct1", ContentType: models.ContentPost, MediaType: models.MediaPhoto},
		"reel album":      {AccountHandle: "acct1", ContentType: models.ContentReel, MediaRefs: []string{video, video}},
		"reel photo":      {AccountHandle: "acct1", ContentType: models.ContentReel, MediaType: models.MediaPhoto, MediaRefs: []string{photo}},
		"missing file":    {AccountHandle: "acct1", ContentType: models.ContentPost, MediaType: models.MediaPhoto, MediaRefs: []string{photo + ".gone"}},
		"wrong kind":      {AccountHandle: "acct1", ContentType: models.ContentPost, MediaType: models.MediaVideo, MediaRefs: []string{photo}},
		"r2 without r2":   {AccountHandle: "acct1", ContentType: models.ContentPost, MediaType: models.MediaPhoto, MediaRefs: []string{"r2://x.png"}},
		"huge caption":    {AccountHandle: "acct1", ContentType: models.ContentPost, MediaType: models.MediaPhoto, MediaRefs: []string{photo}, Caption: string(make([]byte, maxCaptionLength+1))},
		"empty reference": {AccountHandle: "acct1", ContentType: models.ContentStory, MediaType: models.MediaPhoto, MediaRefs: []string{" "}},
	}
	for name, d := range cases {
		d := d
		_, err := f.svc.Enqueue(ctx, &d)
		var ve *errs.ValidationError
		require.ErrorAs(t, err, &ve, name)
	}

	reel, err := f.svc.Enqueue(ctx, &models.PublicationDraft{
		AccountHandle: "acct1", ContentType: models.ContentReel, MediaRefs: []string{video},
	})
	require.NoError(t, err)
	require.Equal(t, models.MediaVideo, reel.MediaType)
	require.False(t, reel.PublishTime.IsZero())

	list, err := f.svc.ListQueue(ctx, models.PublicationFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestPublicationService_EnqueueUnknownOrInactiveAccount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newPublicationFixture(t)
	photo := writeFile(t, "a.png", pngBytes)

	d := models.PublicationDraft{AccountHandle: "ghost", ContentType: models.ContentPost, MediaType: models.MediaPhoto, MediaRefs: []string{photo}}
	_, err := f.svc.Enqueue(ctx, &d)
	require.ErrorIs(t, err, errs.ErrAccountNotFound)

	_, err = f.accounts.Deactivate(ctx, "acct1")
	require.NoError(t, err)
	d.AccountHandle = "acct1"
	_, err = f.svc.Enqueue(ctx, &d)
	require.ErrorIs(t, err, errs.ErrAccountInactive)
}

func TestPublicationService_CancelTwice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newPublicationFixture(t)
	photo := writeFile(t, "a.png", pngBytes)

	p, err := f.svc.Enqueue(ctx, &models.PublicationDraft{
		AccountHandle: "acct1", ContentType: models.ContentStory, MediaType: models.MediaPhoto,
		MediaRefs: []string{photo}, PublishTime: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(ctx, p.ID))
	require.ErrorIs(t, f.svc.Cancel(ctx, p.ID), errs.ErrAlreadyFinal)
	require.ErrorIs(t, f.svc.Cancel(ctx, "nope"), errs.ErrNotFound)

	got, attempts, err := f.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, got.Status)
	require.Empty(t, attempts)
}

func TestPublicationService_CancelWhileClaimed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newPublicationFixture(t)
	photo := writeFile(t, "a.png", pngBytes)

	p, err := f.svc.Enqueue(ctx, &models.PublicationDraft{
		AccountHandle: "acct1", ContentType: models.ContentPost, MediaType: models.MediaPhoto,
		MediaRefs: []string{photo}, PublishTime: time.Now().Add(-time.Second),
	})
	require.NoError(t, err)

	now := time.Now()
	ok, err := f.publications.Claim(ctx, p.ID, now, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	require.ErrorIs(t, f.svc.Cancel(ctx, p.ID), errs.ErrPublicationBusy)
}

func TestPublicationService_StoreMediaAndStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newPublicationFixture(t)

	ref, mt, err := f.svc.StoreMedia(ctx, mp4Bytes, "")
	require.NoError(t, err)
	require.Equal(t, models.MediaVideo, mt)
	require.FileExists(t, ref)

	_, _, err = f.svc.StoreMedia(ctx, []byte("plain text"), "")
	var ve *errs.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = f.svc.Enqueue(ctx, &models.PublicationDraft{
		AccountHandle: "acct1", ContentType: models.ContentReel, MediaRefs: []string{ref},
	})
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.TotalAccounts)
	require.Equal(t, int64(1), stats.ActiveAccounts)
	require.Equal(t, int64(1), stats.ByStatus[models.StatusQueued])
	require.Equal(t, int64(1), stats.ByContentType[models.ContentReel])

	_, err = f.svc.ListQueue(ctx, models.PublicationFilter{Status: "weird"})
	require.ErrorAs(t, err, &ve)
}
