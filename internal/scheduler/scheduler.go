// Package scheduler runs due publications against the publisher and moves them
// through the publication state machine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/maheshrc27/postqueue/internal/database"
	"github.com/maheshrc27/postqueue/internal/errs"
	"github.com/maheshrc27/postqueue/internal/instagram"
	"github.com/maheshrc27/postqueue/internal/login"
	"github.com/maheshrc27/postqueue/internal/media"
	"github.com/maheshrc27/postqueue/internal/models"
	"github.com/maheshrc27/postqueue/internal/notify"
	"github.com/maheshrc27/postqueue/internal/repository"
	"github.com/maheshrc27/postqueue/pkg/utils"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Sessions hands out remote sessions for stored accounts.
type Sessions interface {
	GetSession(ctx context.Context, handle string) (*login.Session, error)
	Invalidate(handle string)
}

// MediaStore turns a media ref into a local file.
type MediaStore interface {
	Fetch(ctx context.Context, ref string) (string, func(), error)
}

type Config struct {
	Interval          time.Duration
	BatchSize         int
	MaxConcurrentJobs int
	RetryDelay        time.Duration
	MaxRetries        int
	RequestTimeout    time.Duration
	MaxReelDuration   time.Duration
	ClaimTTL          time.Duration
	Limits            Limits
}

type Deps struct {
	DB           *database.DB
	Publications repository.PublicationRepository
	Attempts     repository.PublicationAttemptRepository
	Accounts     repository.AccountRepository
	Sessions     Sessions
	Publisher    instagram.Publisher
	Media        MediaStore
	Prober       media.Prober
	Notifier     notify.Notifier
}

type Scheduler struct {
	db        *database.DB
	pr        repository.PublicationRepository
	pa        repository.PublicationAttemptRepository
	ar        repository.AccountRepository
	sessions  Sessions
	publisher instagram.Publisher
	media     MediaStore
	prober    media.Prober
	notifier  notify.Notifier

	cfg     Config
	limiter *accountLimiter
	cron    *cron.Cron

	now           func() time.Time
	recordBackoff time.Duration
}

const (
	recordRetries = 3
	// how long a publication that went live but could not be recorded is kept
	// away from the poller
	recordHold = 7 * 24 * time.Hour
)

func New(d Deps, cfg Config) *Scheduler {
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 10 * time.Minute
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Scheduler{
		db:        d.DB,
		pr:        d.Publications,
		pa:        d.Attempts,
		ar:        d.Accounts,
		sessions:  d.Sessions,
		publisher: d.Publisher,
		media:     d.Media,
		prober:    d.Prober,
		notifier:  notifier,
		cfg:       cfg,
		limiter:   newAccountLimiter(cfg.Limits),
		now:       func() time.Time { return time.Now().UTC() },

		recordBackoff: time.Second,
	}
}

// Start polls every Interval until Stop. A tick that is still running when the
// next one is due makes the next one skip.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = utils.NewCron()
	_, err := s.cron.AddFunc("@every "+s.cfg.Interval.String(), func() {
		if err := s.Tick(ctx); err != nil {
			slog.Error("scheduler tick failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule poller: %w", err)
	}
	s.cron.Start()
	slog.Info("scheduler started", "interval", s.cfg.Interval, "max_concurrent_jobs", s.cfg.MaxConcurrentJobs)
	return nil
}

// Stop waits for the running tick to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// Tick processes one batch of due publications. Per-item failures are recorded
// on the item and never abort the batch.
func (s *Scheduler) Tick(ctx context.Context) error {
	due, err := s.pr.ListDue(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list due publications: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	slog.Debug("processing due publications", "count", len(due))

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrentJobs)
	for _, p := range due {
		g.Go(func() error {
			s.process(ctx, p)
			return nil
		})
	}
	return g.Wait()
}

type outcome struct {
	mediaID string
	err     error
	called  bool      // the publisher was invoked
	deferTo time.Time // account quota exhausted
}

func (s *Scheduler) process(ctx context.Context, p *models.Publication) {
	now := s.now()
	claim := now.Add(s.claimTTL(p))
	ok, err := s.pr.Claim(ctx, p.ID, now, claim)
	if err != nil {
		slog.Error("failed to claim publication", "publication", p.ID, "error", err)
		return
	}
	if !ok {
		// cancelled, or picked up elsewhere
		return
	}
	if fresh, err := s.pr.GetByID(ctx, p.ID); err == nil {
		p = fresh
	}

	o := s.run(ctx, p, claim)

	// the remote side may have changed, so record it even during shutdown
	s.settle(context.WithoutCancel(ctx), p, claim, o)
}

// claimTTL covers one request timeout per story item on top of ClaimTTL, since
// every item is a separate call.
func (s *Scheduler) claimTTL(p *models.Publication) time.Duration {
	ttl := s.cfg.ClaimTTL
	if p.ContentType == models.ContentStory && s.cfg.RequestTimeout > 0 {
		ttl += s.cfg.RequestTimeout * time.Duration(len(p.MediaRefs))
	}
	return ttl
}

func (s *Scheduler) run(ctx context.Context, p *models.Publication, claim time.Time) outcome {
	paths, release, err := s.fetch(ctx, p.MediaRefs)
	if err != nil {
		return outcome{err: err}
	}
	defer release()

	// an over-long reel is rejected before any account work
	if p.ContentType == models.ContentReel {
		if err := s.checkReel(ctx, paths[0]); err != nil {
			return outcome{err: err}
		}
	}

	session, err := s.sessions.GetSession(ctx, p.AccountHandle)
	if err != nil {
		return outcome{err: fmt.Errorf("account @%s: %w", p.AccountHandle, err)}
	}

	now := s.now()
	if wait := s.limiter.reserve(p.AccountHandle, p.ContentType, now); wait > 0 {
		return outcome{deferTo: now.Add(wait)}
	}

	mediaID, err := s.dispatch(ctx, session, p, claim, paths)
	if errors.Is(err, instagram.ErrSessionExpired) {
		s.sessions.Invalidate(p.AccountHandle)
	}
	return outcome{mediaID: mediaID, err: err, called: true}
}

func (s *Scheduler) remote(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.RequestTimeout)
}

// fetch resolves every ref to a local path. The returned func releases all of them.
func (s *Scheduler) fetch(ctx context.Context, refs []string) ([]string, func(), error) {
	paths := make([]string, 0, len(refs))
	var releases []func()
	releaseAll := func() {
		for _, r := range releases {
			r()
		}
	}

	for _, ref := range refs {
		path, release, err := s.media.Fetch(ctx, ref)
		if err != nil {
			releaseAll()
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil, errs.Permanent(err)
			}
			return nil, nil, fmt.Errorf("fetch media: %w", err)
		}
		paths = append(paths, path)
		releases = append(releases, release)
	}
	return paths, releaseAll, nil
}

func (s *Scheduler) checkReel(ctx context.Context, path string) error {
	if s.prober == nil || s.cfg.MaxReelDuration <= 0 {
		return nil
	}
	pctx, cancel := s.remote(ctx)
	defer cancel()

	d, err := s.prober.Duration(pctx, path)
	if err != nil {
		if pctx.Err() != nil {
			return fmt.Errorf("probe reel: %w", pctx.Err())
		}
		return errs.Invalid("media", "cannot read reel duration: %v", err)
	}
	if d > s.cfg.MaxReelDuration {
		return errs.Invalid("media", "reel is %s long, the limit is %s", d, s.cfg.MaxReelDuration)
	}
	return nil
}

// dispatch makes the publisher calls for p, each under its own RequestTimeout.
func (s *Scheduler) dispatch(ctx context.Context, session *login.Session, p *models.Publication, claim time.Time, paths []string) (string, error) {
	if p.ContentType == models.ContentStory {
		return "", s.uploadStory(ctx, session, p, claim, paths)
	}

	rctx, cancel := s.remote(ctx)
	defer cancel()

	switch p.ContentType {
	case models.ContentPost:
		if len(paths) > 1 {
			return s.publisher.UploadAlbum(rctx, session, paths, p.Caption)
		}
		if p.MediaType == models.MediaVideo {
			return s.publisher.UploadVideo(rctx, session, paths[0], p.Caption)
		}
		return s.publisher.UploadPhoto(rctx, session, paths[0], p.Caption)

	case models.ContentReel:
		return s.publisher.UploadReel(rctx, session, paths[0], p.Caption)
	}
	return "", errs.Invalid("content_type", "unknown content type %q", p.ContentType)
}

// uploadStory posts the story items in order, starting after those a previous
// attempt already put live, and records progress after every item.
func (s *Scheduler) uploadStory(ctx context.Context, session *login.Session, p *models.Publication, claim time.Time, paths []string) error {
	for i := p.ItemsDone; i < len(paths); i++ {
		rctx, cancel := s.remote(ctx)
		err := s.publisher.UploadToStory(rctx, session, paths[i])
		cancel()
		if err != nil {
			return fmt.Errorf("story item %d of %d: %w", i+1, len(paths), err)
		}

		p.ItemsDone = i + 1
		ok, err := s.pr.SetItemsDone(context.WithoutCancel(ctx), p.ID, claim, p.ItemsDone)
		if err != nil || !ok {
			slog.Error("failed to record story progress", "publication", p.ID, "items_done", p.ItemsDone,
				"lost_claim", !ok, "error", err)
		}
	}
	return nil
}

// backoff is RetryDelay doubled for every attempt already consumed.
func (s *Scheduler) backoff(attempts int) time.Duration {
	shift := attempts - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 16 {
		shift = 16
	}
	return s.cfg.RetryDelay * time.Duration(1<<shift)
}

func (s *Scheduler) settle(ctx context.Context, p *models.Publication, claim time.Time, o outcome) {
	now := s.now()

	if !o.deferTo.IsZero() {
		if _, err := s.pr.Release(ctx, p.ID, claim, o.deferTo); err != nil {
			slog.Error("failed to release publication", "publication", p.ID, "error", err)
			return
		}
		slog.Info("account quota reached, publication deferred",
			"publication", p.ID, "account", p.AccountHandle, "not_before", o.deferTo)
		return
	}

	var attempt *models.PublicationAttempt
	if o.called {
		attempt = &models.PublicationAttempt{
			PublicationID: p.ID,
			Attempt:       p.Attempts + 1,
			Transient:     errs.IsTransient(o.err),
			CreatedAt:     now,
		}
		if o.err != nil {
			attempt.ErrorMessage = o.err.Error()
		}
	}

	if o.err == nil {
		if err := s.record(ctx, p, claim, o.mediaID, attempt, now); err != nil {
			slog.Error("published but failed to record it", "publication", p.ID, "media_id", o.mediaID, "error", err)
			s.hold(ctx, p, claim, now)
			return
		}
		slog.Info("publication published", "publication", p.ID, "account", p.AccountHandle,
			"content_type", p.ContentType, "media_id", o.mediaID)
		s.notifier.Notify(notify.Event{
			Kind:          notify.KindPublished,
			PublicationID: p.ID,
			Account:       p.AccountHandle,
			ContentType:   string(p.ContentType),
			Attempts:      p.Attempts,
			MediaID:       o.mediaID,
			At:            now,
		})
		return
	}

	if attempt != nil {
		if err := s.pa.Create(ctx, nil, attempt); err != nil {
			slog.Error("failed to record attempt", "publication", p.ID, "error", err)
		}
	}

	msg := o.err.Error()
	attempts := p.Attempts
	if errs.IsTransient(o.err) {
		attempts++
		if attempts < s.cfg.MaxRetries {
			next := now.Add(s.backoff(attempts))
			ok, err := s.pr.Reschedule(ctx, p.ID, claim, attempts, next)
			if err != nil || !ok {
				slog.Error("failed to reschedule publication", "publication", p.ID, "lost_claim", !ok, "error", err)
				return
			}
			slog.Warn("publication attempt failed, retrying", "publication", p.ID, "attempts", attempts,
				"next_attempt", next, "error", msg)
			s.notifier.Notify(notify.Event{
				Kind:          notify.KindRetrying,
				PublicationID: p.ID,
				Account:       p.AccountHandle,
				ContentType:   string(p.ContentType),
				Attempts:      attempts,
				Error:         msg,
				NextAttempt:   next,
				At:            now,
			})
			return
		}
	}

	ok, err := s.pr.MarkFailed(ctx, p.ID, claim, attempts, msg)
	if err != nil || !ok {
		slog.Error("failed to mark publication failed", "publication", p.ID, "lost_claim", !ok, "error", err)
		return
	}
	slog.Warn("publication failed", "publication", p.ID, "account", p.AccountHandle, "attempts", attempts, "error", msg)
	s.notifier.Notify(notify.Event{
		Kind:          notify.KindFailed,
		PublicationID: p.ID,
		Account:       p.AccountHandle,
		ContentType:   string(p.ContentType),
		Attempts:      attempts,
		Error:         msg,
		At:            now,
	})
}

// record retries complete a few times; the publish already happened remotely.
func (s *Scheduler) record(ctx context.Context, p *models.Publication, claim time.Time, mediaID string, attempt *models.PublicationAttempt, at time.Time) error {
	var err error
	for i := 0; i < recordRetries; i++ {
		if i > 0 {
			time.Sleep(s.recordBackoff * time.Duration(i))
		}
		if err = s.complete(ctx, p, claim, mediaID, attempt, at); err == nil || errors.Is(err, errClaimLost) {
			return err
		}
		slog.Warn("failed to record publication, retrying", "publication", p.ID, "try", i+1, "error", err)
	}
	return err
}

// hold parks a publication that went live but is not recorded, so the poller
// does not publish it again once the claim expires.
func (s *Scheduler) hold(ctx context.Context, p *models.Publication, claim, now time.Time) {
	until := now.Add(recordHold)
	ok, err := s.pr.Release(ctx, p.ID, claim, until)
	if err != nil || !ok {
		slog.Error("failed to hold unrecorded publication", "publication", p.ID, "lost_claim", !ok, "error", err)
		return
	}
	slog.Warn("unrecorded publication held", "publication", p.ID, "not_before", until)
}

var errClaimLost = errors.New("claim lost before the publication was recorded")

// complete marks p published, bumps the account counters and records the
// attempt in one transaction.
func (s *Scheduler) complete(ctx context.Context, p *models.Publication, claim time.Time, mediaID string, attempt *models.PublicationAttempt, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ok, err := s.pr.MarkPublished(ctx, tx, p.ID, claim, p.Attempts, mediaID, at)
	if err != nil {
		return err
	}
	if !ok {
		return errClaimLost
	}
	if err := s.ar.RecordPublish(ctx, tx, p.AccountHandle, p.ContentType, at); err != nil {
		return fmt.Errorf("update counters of @%s: %w", p.AccountHandle, err)
	}
	if attempt != nil {
		if err := s.pa.Create(ctx, tx, attempt); err != nil {
			return err
		}
	}
	return tx.Commit()
}
