package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maheshrc27/postqueue/internal/errs"
	"github.com/maheshrc27/postqueue/internal/media"
	"github.com/maheshrc27/postqueue/internal/models"
	"github.com/maheshrc27/postqueue/internal/repository"
)

const maxCaptionLength = 2200

// PublicationService is the front-end side of the publication queue.
type PublicationService interface {
	Enqueue(ctx context.Context, d *models.PublicationDraft) (*models.Publication, error)
	Cancel(ctx context.Context, id string) error
	ListQueue(ctx context.Context, f models.PublicationFilter) ([]*models.Publication, error)
	Get(ctx context.Context, id string) (*models.Publication, []*models.PublicationAttempt, error)
	StoreMedia(ctx context.Context, data []byte, mt models.MediaType) (string, models.MediaType, error)
	Stats(ctx context.Context) (*models.Stats, error)
}

type publicationService struct {
	pr        repository.PublicationRepository
	pa        repository.PublicationAttemptRepository
	ar        repository.AccountRepository
	validator *media.Validator
	storage   *media.Storage
	now       func() time.Time
}

func NewPublicationService(
	pr repository.PublicationRepository,
	pa repository.PublicationAttemptRepository,
	ar repository.AccountRepository,
	validator *media.Validator,
	storage *media.Storage) PublicationService {
	return &publicationService{
		pr:        pr,
		pa:        pa,
		ar:        ar,
		validator: validator,
		storage:   storage,
		now:       time.Now,
	}
}

func (s *publicationService) Enqueue(ctx context.Context, d *models.PublicationDraft) (*models.Publication, error) {
	if d == nil {
		return nil, errs.Invalid("", "publication is empty")
	}
	if err := s.validateDraft(d); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	account, err := s.ar.GetByHandle(ctx, d.AccountHandle)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, fmt.Errorf("%s: %w", d.AccountHandle, errs.ErrAccountInactive)
	}

	publishTime := d.PublishTime
	if publishTime.IsZero() {
		publishTime = s.now()
	}

	p := &models.Publication{
		AccountHandle: account.Handle,
		ContentType:   d.ContentType,
		MediaType:     d.MediaType,
		MediaRefs:     d.MediaRefs,
		Caption:       d.Caption,
		PublishTime:   publishTime.UTC(),
	}
	if err := s.pr.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("error creating publication: %w", err)
	}

	slog.Info("publication queued", "id", p.ID, "account", p.AccountHandle,
		"content_type", p.ContentType, "publish_time", p.PublishTime)
	return p, nil
}

func (s *publicationService) validateDraft(d *models.PublicationDraft) error {
	d.AccountHandle = normalizeHandle(d.AccountHandle)
	if d.AccountHandle == "" {
		return errs.Invalid("account", "is required")
	}
	if !d.ContentType.Valid() {
		return errs.Invalid("content_type", "must be post, story or reel")
	}
	if d.MediaType == "" && d.ContentType == models.ContentReel {
		d.MediaType = models.MediaVideo
	}
	if !d.MediaType.Valid() {
		return errs.Invalid("media_type", "must be photo or video")
	}
	if len(d.MediaRefs) == 0 {
		return errs.Invalid("media", "at least one file is required")
	}
	if d.ContentType == models.ContentReel {
		if len(d.MediaRefs) != 1 {
			return errs.Invalid("media", "a reel takes exactly one video")
		}
		if d.MediaType != models.MediaVideo {
			return errs.Invalid("media_type", "a reel must be a video")
		}
	}
	if len([]rune(d.Caption)) > maxCaptionLength {
		return errs.Invalid("caption", "longer than %d characters", maxCaptionLength)
	}

	for _, ref := range d.MediaRefs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return errs.Invalid("media", "empty file reference")
		}
		if media.IsRemote(ref) {
			if s.storage == nil || !s.storage.Remote() {
				return errs.Invalid("media", "%s: no bucket configured", ref)
			}
			continue
		}
		if err := s.validator.CheckFile(ref, d.MediaType); err != nil {
			return err
		}
	}
	return nil
}

// Cancel moves a queued publication to cancelled. It fails with ErrAlreadyFinal
// once the publication reached a terminal status, and with ErrPublicationBusy
// while the scheduler is publishing it.
func (s *publicationService) Cancel(ctx context.Context, id string) error {
	ok, err := s.pr.Cancel(ctx, id, s.now())
	if err != nil {
		return err
	}
	if ok {
		slog.Info("publication cancelled", "id", id)
		return nil
	}

	p, err := s.pr.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.Status.Terminal() {
		return fmt.Errorf("%s is %s: %w", id, p.Status, errs.ErrAlreadyFinal)
	}
	return fmt.Errorf("%s: %w", id, errs.ErrPublicationBusy)
}

func (s *publicationService) ListQueue(ctx context.Context, f models.PublicationFilter) ([]*models.Publication, error) {
	if f.Status != "" && !f.Status.Terminal() && f.Status != models.StatusQueued {
		return nil, errs.Invalid("status", "unknown status %q", f.Status)
	}
	if f.ContentType != "" && !f.ContentType.Valid() {
		return nil, errs.Invalid("content_type", "unknown content type %q", f.ContentType)
	}
	f.AccountHandle = normalizeHandle(f.AccountHandle)
	return s.pr.List(ctx, f)
}

func (s *publicationService) Get(ctx context.Context, id string) (*models.Publication, []*models.PublicationAttempt, error) {
	p, err := s.pr.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	attempts, err := s.pa.ListByPublicationID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return p, attempts, nil
}

// StoreMedia validates an upload and keeps it. An empty mt is detected from
// the content.
func (s *publicationService) StoreMedia(ctx context.Context, data []byte, mt models.MediaType) (string, models.MediaType, error) {
	if mt == "" {
		detected, ok := media.Detect(data)
		if !ok {
			return "", "", errs.Invalid("media", "unsupported file type")
		}
		mt = detected
	}
	kind, err := s.validator.CheckBytes(data, mt)
	if err != nil {
		return "", "", err
	}
	if s.storage == nil {
		return "", "", errors.New("no media storage configured")
	}
	ref, err := s.storage.Put(ctx, data, kind.Extension, kind.MIME.Value)
	if err != nil {
		return "", "", fmt.Errorf("error uploading file: %w", err)
	}
	return ref, mt, nil
}

func (s *publicationService) Stats(ctx context.Context) (*models.Stats, error) {
	total, active, err := s.ar.Count(ctx)
	if err != nil {
		return nil, err
	}
	byStatus, err := s.pr.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	byType, err := s.pr.CountByContentType(ctx)
	if err != nil {
		return nil, err
	}
	return &models.Stats{
		TotalAccounts:  total,
		ActiveAccounts: active,
		ByStatus:       byStatus,
		ByContentType:  byType,
	}, nil
}
