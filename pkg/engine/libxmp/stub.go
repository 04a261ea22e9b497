//go:build !libxmp

// Package libxmp binds the libxmp tracker decoder. Without the "libxmp"
// build tag the binding is compiled out and [Open] reports
// [engine.ErrUnavailable].
package libxmp

import "github.com/MrWong99/modplay/pkg/engine"

// Open reports that libxmp was not compiled in.
func Open() (engine.Library, error) {
	return nil, engine.ErrUnavailable
}

// Version returns an empty string when libxmp was not compiled in.
func Version() string { return "" }
