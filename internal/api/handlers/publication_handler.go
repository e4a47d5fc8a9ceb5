package handlers

import (
	"io"
	"log/slog"
	"mime/multipart"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postqueue/internal/errs"
	"github.com/maheshrc27/postqueue/internal/models"
	"github.com/maheshrc27/postqueue/internal/service"
	"github.com/maheshrc27/postqueue/internal/transfer"
)

type PublicationHandler struct {
	s service.PublicationService
}

func NewPublicationHandler(s service.PublicationService) *PublicationHandler {
	return &PublicationHandler{s: s}
}

// CreatePublication accepts either a multipart form with the media under
// "files", or a JSON body whose media_refs point at already stored media.
func (h *PublicationHandler) CreatePublication(c *fiber.Ctx) error {
	var req transfer.PublicationCreation
	var files []*multipart.FileHeader

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			slog.Error(err.Error())
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unable to parse form",
			})
		}
		req.Account = c.FormValue("account")
		req.ContentType = c.FormValue("content_type")
		req.MediaType = c.FormValue("media_type")
		req.Caption = c.FormValue("caption")
		req.PublishTime = c.FormValue("publish_time")
		files = form.File["files"]
		if len(files) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "No files selected",
			})
		}
	} else if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request",
		})
	}

	draft := &models.PublicationDraft{
		AccountHandle: req.Account,
		ContentType:   models.ContentType(req.ContentType),
		MediaType:     models.MediaType(req.MediaType),
		MediaRefs:     req.MediaRefs,
		Caption:       req.Caption,
	}
	if req.PublishTime != "" {
		at, err := time.Parse(time.RFC3339, req.PublishTime)
		if err != nil {
			return sendError(c, errs.Invalid("publish_time", "must be RFC 3339, e.g. 2025-01-02T15:04:05Z"))
		}
		draft.PublishTime = at
	}

	for _, fh := range files {
		ref, mt, err := h.store(c, fh, draft.MediaType)
		if err != nil {
			return sendError(c, err)
		}
		if draft.MediaType == "" {
			draft.MediaType = mt
		}
		draft.MediaRefs = append(draft.MediaRefs, ref)
	}

	p, err := h.s.Enqueue(c.Context(), draft)
	if err != nil {
		return sendError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(p)
}

func (h *PublicationHandler) store(c *fiber.Ctx, fh *multipart.FileHeader, mt models.MediaType) (string, models.MediaType, error) {
	f, err := fh.Open()
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", "", err
	}
	return h.s.StoreMedia(c.Context(), data, mt)
}

func (h *PublicationHandler) ListPublications(c *fiber.Ctx) error {
	filter := models.PublicationFilter{
		Status:        models.PublicationStatus(c.Query("status")),
		AccountHandle: c.Query("account"),
		ContentType:   models.ContentType(c.Query("content_type")),
		Limit:         c.QueryInt("limit", 100),
	}

	publications, err := h.s.ListQueue(c.Context(), filter)
	if err != nil {
		return sendError(c, err)
	}
	if publications == nil {
		publications = []*models.Publication{}
	}
	return c.Status(fiber.StatusOK).JSON(publications)
}

func (h *PublicationHandler) GetPublication(c *fiber.Ctx) error {
	p, attempts, err := h.s.Get(c.Context(), c.Params("id"))
	if err != nil {
		return sendError(c, err)
	}
	if attempts == nil {
		attempts = []*models.PublicationAttempt{}
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"publication": p,
		"attempts":    attempts,
	})
}

func (h *PublicationHandler) CancelPublication(c *fiber.Ctx) error {
	if err := h.s.Cancel(c.Context(), c.Params("id")); err != nil {
		return sendError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Publication cancelled",
	})
}
