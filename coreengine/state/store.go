// Package state provides crash-recoverable position markers for processors.
//
// A processor that resumes from a cursor (a file offset, an event-log
// bookmark) loads it in OnSchedule and saves it after each commit. The core
// treats the store purely as an injected dependency.
package state

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrNotFound is returned by Load when no state was saved under the key.
	// It marks a first run, not a failure.
	ErrNotFound = errors.New("state not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("state store closed")
)

// Store persists small key/value maps per processor.
type Store interface {
	Load(ctx context.Context, key string) (map[string]string, error)
	Save(ctx context.Context, key string, values map[string]string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open creates a store from a DSN:
//
//	memory://
//	sqlite:///var/lib/flowkernel/state.db
//	redis://localhost:6379/0
func Open(dsn string) (Store, error) {
	if dsn == "" || dsn == "memory://" {
		return NewMemoryStore(), nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid state dsn %q: %w", dsn, err)
	}
	switch u.Scheme {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		path := strings.TrimPrefix(dsn, "sqlite://")
		return OpenSQLite(path)
	case "redis":
		db := 0
		if p := strings.Trim(u.Path, "/"); p != "" {
			if db, err = strconv.Atoi(p); err != nil {
				return nil, fmt.Errorf("invalid redis db %q: %w", p, err)
			}
		}
		password, _ := u.User.Password()
		return NewRedisStore(u.Host, password, db), nil
	default:
		return nil, fmt.Errorf("unsupported state store scheme %q", u.Scheme)
	}
}

func copyValues(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
