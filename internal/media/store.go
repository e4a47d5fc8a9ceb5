package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Store keeps uploaded media and makes it available as a local file again.
// Fetch returns the path and a release func that must be called once the file
// is no longer needed.
type Store interface {
	Put(ctx context.Context, data []byte, ext, mime string) (string, error)
	Fetch(ctx context.Context, ref string) (string, func(), error)
}

// LocalStore keeps media in a directory. Its refs are file paths.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &LocalStore{dir: abs}, nil
}

func (s *LocalStore) Put(_ context.Context, data []byte, ext, _ string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, id+"."+strings.TrimPrefix(ext, "."))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write media: %w", err)
	}
	return path, nil
}

func (s *LocalStore) Fetch(_ context.Context, ref string) (string, func(), error) {
	if _, err := os.Stat(ref); err != nil {
		return "", nil, fmt.Errorf("media %s: %w", ref, err)
	}
	return ref, func() {}, nil
}

// Storage routes refs to the store that owns them: r2:// refs go to the bucket,
// everything else is a local path. New uploads go to the bucket when one is
// configured.
type Storage struct {
	local  *LocalStore
	remote *R2Store
}

func NewStorage(local *LocalStore, remote *R2Store) *Storage {
	return &Storage{local: local, remote: remote}
}

func (s *Storage) Put(ctx context.Context, data []byte, ext, mime string) (string, error) {
	if s.remote != nil {
		return s.remote.Put(ctx, data, ext, mime)
	}
	return s.local.Put(ctx, data, ext, mime)
}

func (s *Storage) Fetch(ctx context.Context, ref string) (string, func(), error) {
	if IsRemote(ref) {
		if s.remote == nil {
			return "", nil, fmt.Errorf("media %s: no bucket configured", ref)
		}
		return s.remote.Fetch(ctx, ref)
	}
	return s.local.Fetch(ctx, ref)
}

// Remote reports whether the storage can serve r2:// refs.
func (s *Storage) Remote() bool { return s.remote != nil }
