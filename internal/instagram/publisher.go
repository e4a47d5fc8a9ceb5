// Package instagram talks to the Instagram bridge, a sidecar that owns the
// private-API client, for both login and uploads.
package instagram

import (
	"context"

	"github.com/maheshrc27/postqueue/internal/login"
)

// Publisher is the remote upload capability. Errors are *errs.PublishError
// when the bridge classified them; anything else is treated as transient.
type Publisher interface {
	UploadPhoto(ctx context.Context, s *login.Session, path, caption string) (string, error)
	UploadAlbum(ctx context.Context, s *login.Session, paths []string, caption string) (string, error)
	UploadVideo(ctx context.Context, s *login.Session, path, caption string) (string, error)
	UploadToStory(ctx context.Context, s *login.Session, path string) error
	UploadReel(ctx context.Context, s *login.Session, path, caption string) (string, error)
}
