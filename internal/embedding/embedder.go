package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable is returned when no vector could be produced for a text:
// the input was blank, or the provider failed, timed out or answered with a
// malformed payload.
var ErrUnavailable = errors.New("embedding unavailable")

// Embedder converts free text into a fixed-length numeric vector.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Unavailable wraps cause so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(cause error) error {
	if cause == nil {
		return ErrUnavailable
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, cause)
}

// CheckInput rejects blank text before any provider call is made.
func CheckInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return Unavailable(errors.New("empty text"))
	}
	return nil
}
