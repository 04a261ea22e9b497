package engine

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrInvalidArgument is returned when an argument is rejected. The
	// engine's state is unchanged.
	ErrInvalidArgument = errors.New("engine: invalid argument")

	// ErrInternal reports an unrecoverable decoder fault. A session that
	// observes it must be torn down, not retried.
	ErrInternal = errors.New("engine: internal error")

	// ErrNoModule is returned by operations that need a loaded module.
	ErrNoModule = errors.New("engine: no module loaded")

	// ErrState is returned when the decoder is not in a state that allows the
	// operation, typically because the player has not been started.
	ErrState = errors.New("engine: invalid player state")

	// ErrEndOfStream is returned by [Player.PlayFrame] once the module has
	// finished or was stopped.
	ErrEndOfStream = errors.New("engine: end of stream")

	// ErrUnavailable is returned when no native decoder was compiled in.
	ErrUnavailable = errors.New("engine: native decoder unavailable")
)

// errorStrings are the decoder's own messages, indexed by code.
var errorStrings = [...]string{
	0:             "no error",
	ErrorEnd:      "end of module",
	ErrorInternal: "internal error",
	ErrorFormat:   "unsupported module format",
	ErrorLoad:     "error loading file",
	ErrorDepack:   "error depacking file",
	ErrorSystem:   "system error",
	ErrorInvalid:  "invalid parameter",
	ErrorState:    "invalid player state",
}

// CodeString returns the decoder message for a raw code (negated or not).
func CodeString(code int) string {
	if code < 0 {
		code = -code
	}
	if code < len(errorStrings) {
		return errorStrings[code]
	}
	return fmt.Sprintf("unknown error %d", code)
}

// LoadErrorKind classifies a [LoadError].
type LoadErrorKind int

const (
	// NotFound means the file does not exist.
	NotFound LoadErrorKind = iota + 1

	// UnsupportedFormat means the file is not a module the decoder can read,
	// or it is corrupt.
	UnsupportedFormat

	// SystemIO means the OS failed to read the file.
	SystemIO
)

// String implements [fmt.Stringer].
func (k LoadErrorKind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case UnsupportedFormat:
		return "unsupported_format"
	case SystemIO:
		return "system_io"
	default:
		return "unknown"
	}
}

// LoadError is returned when a module cannot be loaded or probed.
type LoadError struct {
	Path string
	Kind LoadErrorKind
	Err  error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("engine: load %q: %s: %v", e.Path, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *LoadError) Unwrap() error { return e.Err }

// LoadErrorKindOf reports the [LoadErrorKind] of err if err wraps a
// [LoadError].
func LoadErrorKindOf(err error) (LoadErrorKind, bool) {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return 0, false
}

// SystemError carries an OS error reported by the decoder.
type SystemError struct {
	Op    string
	Errno error
}

// Error implements the error interface.
func (e *SystemError) Error() string {
	if e.Errno == nil {
		return "engine: " + e.Op + ": " + errorStrings[ErrorSystem]
	}
	return "engine: " + e.Op + ": " + e.Errno.Error()
}

// Unwrap returns the OS error.
func (e *SystemError) Unwrap() error { return e.Errno }

// codeError maps a negative native code to a typed error. It returns nil for
// non-negative codes.
func codeError(op string, code int) error {
	switch {
	case code >= 0:
		return nil
	case code == -ErrorEnd:
		return ErrEndOfStream
	case code == -ErrorInternal:
		return fmt.Errorf("engine: %s: %w", op, ErrInternal)
	case code == -ErrorInvalid:
		return fmt.Errorf("engine: %s: %w", op, ErrInvalidArgument)
	case code == -ErrorState:
		return fmt.Errorf("engine: %s: %w", op, ErrState)
	case code == -ErrorSystem:
		return &SystemError{Op: op}
	default:
		return fmt.Errorf("engine: %s: %s", op, CodeString(code))
	}
}

// loadError maps a failed load or probe to a [LoadError]. Internal faults are
// returned unclassified so callers can tell them apart.
func loadError(path string, code int, errno error) error {
	switch code {
	case -ErrorSystem:
		if errno != nil && errors.Is(errno, fs.ErrNotExist) {
			return &LoadError{Path: path, Kind: NotFound, Err: errno}
		}
		return &LoadError{Path: path, Kind: SystemIO, Err: &SystemError{Op: "load", Errno: errno}}
	case -ErrorInternal:
		return fmt.Errorf("engine: load %q: %w", path, ErrInternal)
	default:
		return &LoadError{Path: path, Kind: UnsupportedFormat, Err: errors.New(CodeString(code))}
	}
}
