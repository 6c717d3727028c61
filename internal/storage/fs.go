package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pornlink/ipx-super/internal/ipxerr"
)

// DefaultDir is the filesystem root when none is configured.
const DefaultDir = "public"

// FSOptions configure an FS backend.
type FSOptions struct {
	Dir string

	// MaxAge is reported for every file. Nil leaves the decision to the
	// orchestrator default.
	MaxAge *int
}

// FS serves files below a root directory.
type FS struct {
	root   string
	maxAge *int
}

// NewFS returns a filesystem backend rooted at opts.Dir.
func NewFS(opts FSOptions) (*FS, error) {
	dir := opts.Dir
	if dir == "" {
		dir = DefaultDir
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage dir: %w", err)
	}
	return &FS{root: root, maxAge: opts.MaxAge}, nil
}

func (s *FS) Name() string { return "ipx:fs" }

// resolve maps an id to a path below the root. Ids arrive decoded; any '%'
// left in them is part of the file name.
func (s *FS) resolve(id string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(id))
	if p != s.root && !strings.HasPrefix(p, s.root+string(filepath.Separator)) {
		return "", ipxerr.Errorf(ipxerr.ErrForbiddenPath, "%s", id)
	}
	return p, nil
}

func (s *FS) Meta(ctx context.Context, id string, _ Options) (*Meta, error) {
	p, err := s.resolve(id)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat %s: %w", id, err)
	}
	if info.IsDir() {
		return nil, nil
	}
	mtime := info.ModTime()
	return &Meta{MTime: &mtime, MaxAge: s.maxAge}, nil
}

func (s *FS) Data(ctx context.Context, id string, _ Options) ([]byte, error) {
	p, err := s.resolve(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || isDirErr(p) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", id, err)
	}
	return data, nil
}

func isDirErr(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
