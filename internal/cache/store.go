package cache

import (
	"context"
	"errors"
	"time"

	"github.com/pornlink/ipx-super/internal/imaging"
)

// ErrCorrupt is returned by a Store when an entry exists but cannot be read
// back. The cache treats it like a stale entry.
var ErrCorrupt = errors.New("corrupt cache entry")

// Entry is one cached processing result.
type Entry struct {
	Data   []byte
	Time   time.Time
	Format string
	Meta   imaging.Meta
}

// Processed returns the entry as a processing result.
func (e *Entry) Processed() *imaging.Processed {
	return &imaging.Processed{Data: e.Data, Format: e.Format, Meta: e.Meta}
}

// entryMeta is the serialized form of everything but the data.
type entryMeta struct {
	Time     int64        `cbor:"1,keyasint"`
	Format   string       `cbor:"2,keyasint"`
	Meta     imaging.Meta `cbor:"3,keyasint"`
	Size     int          `cbor:"4,keyasint"`
	Encoding string       `cbor:"5,keyasint,omitempty"`
}

func newEntryMeta(e *Entry, encoding string) entryMeta {
	return entryMeta{
		Time:     e.Time.UnixMilli(),
		Format:   e.Format,
		Meta:     e.Meta,
		Size:     len(e.Data),
		Encoding: encoding,
	}
}

func (m entryMeta) entry(data []byte) *Entry {
	return &Entry{
		Data:   data,
		Time:   time.UnixMilli(m.Time),
		Format: m.Format,
		Meta:   m.Meta,
	}
}

// Store persists entries by key. Get returns (nil, nil) when the key is
// absent. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, e *Entry) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}
