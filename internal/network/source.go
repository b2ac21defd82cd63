package network

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrFileNotFound is returned when the road dataset does not exist.
	ErrFileNotFound = errors.New("road data file not found")
	// ErrFormat is matched by every FormatError.
	ErrFormat = errors.New("road data format error")
)

// Source loads the raw road network.
type Source interface {
	// Load reads every segment of the network. Implementations honor ctx
	// cancellation between records.
	Load(ctx context.Context) ([]RawSegment, error)
	// Name identifies the source in logs and provenance.
	Name() string
}

// FormatError reports a road dataset that exists but cannot be read.
type FormatError struct {
	Source string
	Detail string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Detail)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Is makes every FormatError match ErrFormat.
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}
