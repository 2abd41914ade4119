package generator

import (
	"context"
	"errors"
)

// Echo returns the reference image unchanged. It stands in for the real
// provider when no API key is configured.
type Echo struct{}

// Generate copies the input.
func (Echo) Generate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, &Error{Op: "echo", Retryable: true, Err: err}
	}
	if len(req.Image) == 0 {
		return Result{}, &Error{Op: "echo", Err: errors.New("empty image")}
	}
	return Result{Image: append([]byte(nil), req.Image...), ContentType: req.ContentType}, nil
}
