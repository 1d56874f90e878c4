// Package mirror persists snapshots of local state across process restarts.
//
// A Mirror is a plain key/value store. Values are opaque bytes; PutJSON and
// GetJSON add a versioned JSON envelope on top so that the snapshot format
// can change without silently misreading older data.
package mirror

import (
	"context"

	"github.com/pkg/errors"
)

const (
	KeyChatHistory = "chat-history"
	KeyUserInfo    = "user-info"
)

var (
	ErrClosed             = errors.New("mirror is closed")
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
)

type Mirror interface {
	// Get returns the value stored under key. A missing key returns
	// (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
