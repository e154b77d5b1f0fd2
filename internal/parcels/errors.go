package parcels

import (
	"errors"
	"fmt"
)

// Reasons a dataset fails to load. LoadError matches them with errors.Is.
var (
	ErrNotFound            = errors.New("dataset not found")
	ErrEmpty               = errors.New("dataset contains no polygon features")
	ErrUnparseable         = errors.New("dataset could not be parsed")
	ErrUnresolvedAttribute = errors.New("attribute not present in dataset")
	ErrUnsupportedCRS      = errors.New("unsupported coordinate reference system")
)

// LoadError is returned by Load and FromFeatures.
type LoadError struct {
	Path   string
	Reason error
	Err    error
}

func (e *LoadError) Error() string {
	msg := e.Reason.Error()
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

func loadErr(path string, reason, err error) *LoadError {
	return &LoadError{Path: path, Reason: reason, Err: err}
}

func loadErrf(path string, reason error, format string, args ...any) *LoadError {
	return &LoadError{Path: path, Reason: reason, Err: fmt.Errorf(format, args...)}
}
