package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const (
	fileFormatVersion = "v1-"
	encodingZstd      = "zstd"
)

// DiskStore keeps entries as files under a directory. Keys are spread over
// 256 subdirectories by their first byte. Each entry is a data file plus a
// CBOR ".meta" sidecar; both are written to a temp file and renamed into
// place, and the sidecar is written last so a reader never sees metadata for
// missing data.
type DiskStore struct {
	dir      string
	compress bool
	logger   *zap.Logger

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// DiskOptions configure a DiskStore.
type DiskOptions struct {
	Dir string

	// Compress stores data zstd-compressed when that makes it smaller.
	Compress bool

	Logger *zap.Logger
}

// NewDiskStore creates dir and its shard subdirectories.
func NewDiskStore(opts DiskOptions) (*DiskStore, error) {
	if opts.Dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	absDir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	for i := 0; i < 256; i++ {
		subdir := filepath.Join(absDir, fmt.Sprintf("%02x", i))
		if err := os.MkdirAll(subdir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create subdirectory %s: %w", subdir, err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &DiskStore{dir: absDir, compress: opts.Compress, logger: logger}
	s.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	if opts.Compress {
		s.encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	return s, nil
}

// Dir returns the absolute cache directory.
func (s *DiskStore) Dir() string {
	return s.dir
}

func (s *DiskStore) Get(_ context.Context, key string) (*Entry, error) {
	raw, err := os.ReadFile(s.metaPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var m entryMeta
	if err := cbor.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	data, err := os.ReadFile(s.dataPath(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	switch m.Encoding {
	case "":
	case encodingZstd:
		data, err = s.decoder.DecodeAll(data, make([]byte, 0, m.Size))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrCorrupt, m.Encoding)
	}
	if len(data) != m.Size {
		return nil, fmt.Errorf("%w: size %d, expected %d", ErrCorrupt, len(data), m.Size)
	}

	return m.entry(data), nil
}

func (s *DiskStore) Put(_ context.Context, key string, e *Entry) error {
	data := e.Data
	encoding := ""
	if s.encoder != nil {
		if compressed := s.encoder.EncodeAll(e.Data, nil); len(compressed) < len(e.Data) {
			data = compressed
			encoding = encodingZstd
		}
	}

	meta, err := cbor.Marshal(newEntryMeta(e, encoding))
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	if err := writeAtomic(s.dataPath(key), data); err != nil {
		return err
	}
	return writeAtomic(s.metaPath(key), meta)
}

func (s *DiskStore) Remove(_ context.Context, key string) error {
	var errs []error
	for _, p := range []string{s.metaPath(key), s.dataPath(key)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Clear removes every entry but keeps the shard directories.
func (s *DiskStore) Clear(_ context.Context) error {
	for i := 0; i < 256; i++ {
		subdir := filepath.Join(s.dir, fmt.Sprintf("%02x", i))
		files, err := os.ReadDir(subdir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to list %s: %w", subdir, err)
		}
		for _, f := range files {
			if err := os.Remove(filepath.Join(subdir, f.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn("failed to remove cache file", zap.String("file", f.Name()), zap.Error(err))
			}
		}
	}
	return nil
}

func (s *DiskStore) Close() error {
	if s.encoder != nil {
		s.encoder.Close()
	}
	s.decoder.Close()
	return nil
}

// dataPath maps a hex key to its data file. Keys shorter than two characters
// land in the "00" shard.
func (s *DiskStore) dataPath(key string) string {
	subdir := "00"
	if len(key) >= 2 {
		subdir = key[:2]
	}
	return filepath.Join(s.dir, subdir, fileFormatVersion+key)
}

func (s *DiskStore) metaPath(key string) string {
	return s.dataPath(key) + ".meta"
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}
