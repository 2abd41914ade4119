// Package generator defines the contract of the external image-generation provider.
package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/picpaygo/internal/errs"
)

// Request is one generation call.
type Request struct {
	Category    string
	Prompt      string
	Image       []byte
	ContentType string
}

// Result is the generated image.
type Result struct {
	Image       []byte
	ContentType string
}

// Generator turns a reference image into a generated one.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// Error is a provider failure. Retryable marks transient faults; whether to retry is up to the caller.
type Error struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("generator %s (%s): %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports provider errors as errs.ErrProviderUnavailable.
func (e *Error) Is(target error) bool { return target == errs.ErrProviderUnavailable }

// IsRetryable reports whether err carries a retryable provider Error.
func IsRetryable(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Retryable
}

var prompts = map[string]string{
	"portraits":   "Professional studio portrait of the person in the reference photo, soft light, neutral background.",
	"editorial":   "Magazine editorial portrait of the person in the reference photo, fashion lighting.",
	"documentary": "Candid documentary-style portrait of the person in the reference photo, natural light.",
}

// Prompt returns the prompt for a category, or false when the category is unknown.
func Prompt(category string) (string, bool) {
	p, ok := prompts[category]
	return p, ok
}

// Categories lists the categories with a prompt.
func Categories() []string {
	return []string{"portraits", "editorial", "documentary"}
}
