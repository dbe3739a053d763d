// Package client runs the page-side check: it reads live device signals,
// decides in the client context and carries out suppression.
package client

import (
	"errors"

	"github.com/shortontech/trafficgate/internal/signal"
)

// ErrUnavailable is returned by an Environment that cannot supply a value.
var ErrUnavailable = errors.New("signal unavailable")

// Environment exposes the live signals of a page. Implementations return
// ErrUnavailable, or any other error, for values they cannot read.
type Environment interface {
	UserAgent() (string, error)
	Platform() (string, error)
	Screen() (signal.Screen, error)
}

// StorageKind names one kind of client-side persisted state.
type StorageKind string

const (
	LocalStorage   StorageKind = "local_storage"
	SessionStorage StorageKind = "session_storage"
	Cookies        StorageKind = "cookies"
	CacheStorage   StorageKind = "cache_storage"
)

// StorageKinds lists every kind cleared during suppression, in order.
func StorageKinds() []StorageKind {
	return []StorageKind{LocalStorage, SessionStorage, Cookies, CacheStorage}
}

// Effects is the page mutation capability used by suppression.
type Effects interface {
	ClearStorage(kind StorageKind) error
	ClearDocument() error
	StopLoading() error
	CancelPending() error
}

// Extract builds a bundle from env. A read that fails or panics leaves the
// field absent; Extract itself never fails.
func Extract(env Environment) signal.Bundle {
	if env == nil {
		return signal.New("")
	}

	ua, _ := read(env.UserAgent)

	var opts []signal.Option
	if platform, ok := read(env.Platform); ok {
		opts = append(opts, signal.WithPlatform(platform))
	}
	if screen, ok := read(env.Screen); ok {
		opts = append(opts, signal.WithScreen(screen))
	}
	return signal.New(ua, opts...)
}

func read[T any](fn func() (T, error)) (v T, ok bool) {
	defer func() {
		if recover() != nil {
			var zero T
			v, ok = zero, false
		}
	}()
	v, err := fn()
	if err != nil {
		var zero T
		return zero, false
	}
	return v, true
}
