// Package media checks, stores and fetches the files a publication refers to.
package media

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/maheshrc27/postqueue/internal/errs"
	"github.com/maheshrc27/postqueue/internal/models"
)

var (
	DefaultPhotoFormats = []string{"jpg", "jpeg", "png", "webp"}
	DefaultVideoFormats = []string{"mp4", "mov", "avi"}
)

// Validator rejects files that are too large or whose sniffed type is not an
// allowed format of the declared media type.
type Validator struct {
	maxSize int64
	photo   map[string]struct{}
	video   map[string]struct{}
}

func NewValidator(maxSize int64, photo, video []string) *Validator {
	if len(photo) == 0 {
		photo = DefaultPhotoFormats
	}
	if len(video) == 0 {
		video = DefaultVideoFormats
	}
	return &Validator{maxSize: maxSize, photo: set(photo), video: set(video)}
}

func set(xs []string) map[string]struct{} {
	m := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		m[strings.ToLower(strings.TrimPrefix(x, "."))] = struct{}{}
	}
	return m
}

// CheckFile validates a file on local disk.
func (v *Validator) CheckFile(path string, mt models.MediaType) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errs.Invalid("media", "%s does not exist", path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return errs.Invalid("media", "%s is a directory", path)
	}
	if err := v.checkSize(info.Size()); err != nil {
		return err
	}

	kind, err := filetype.MatchFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return v.checkKind(kind, mt)
}

// CheckBytes validates an uploaded file and returns its sniffed type.
func (v *Validator) CheckBytes(data []byte, mt models.MediaType) (types.Type, error) {
	if err := v.checkSize(int64(len(data))); err != nil {
		return types.Unknown, err
	}
	kind, err := filetype.Match(data)
	if err != nil {
		return types.Unknown, errs.Invalid("media", "unreadable file: %v", err)
	}
	if err := v.checkKind(kind, mt); err != nil {
		return types.Unknown, err
	}
	return kind, nil
}

// Detect guesses the media type of an upload from its content.
func Detect(data []byte) (models.MediaType, bool) {
	switch {
	case filetype.IsImage(data):
		return models.MediaPhoto, true
	case filetype.IsVideo(data):
		return models.MediaVideo, true
	}
	return "", false
}

func (v *Validator) checkSize(size int64) error {
	if size == 0 {
		return errs.Invalid("media", "file is empty")
	}
	if v.maxSize > 0 && size > v.maxSize {
		return errs.Invalid("media", "file is %d bytes, limit is %d", size, v.maxSize)
	}
	return nil
}

func (v *Validator) checkKind(kind types.Type, mt models.MediaType) error {
	if kind == types.Unknown {
		return errs.Invalid("media", "unsupported file type")
	}
	allowed := v.photo
	if mt == models.MediaVideo {
		allowed = v.video
	}
	if _, ok := allowed[kind.Extension]; !ok {
		return errs.Invalid("media", "%s is not an allowed %s format", kind.Extension, mt)
	}
	return nil
}
