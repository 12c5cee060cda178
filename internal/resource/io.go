package resource

import (
	"context"
	"io"
)

// RateLimitedWriter throttles writes through a Controller's IO limiter.
type RateLimitedWriter struct {
	ctx context.Context
	w   io.Writer
	rc  *Controller
	n   int64
}

// NewRateLimitedWriter wraps w.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, rc *Controller) *RateLimitedWriter {
	return &RateLimitedWriter{ctx: ctx, w: w, rc: rc}
}

func (w *RateLimitedWriter) Write(p []byte) (int, error) {
	if err := w.rc.AcquireIO(w.ctx, len(p)); err != nil {
		return 0, err
	}
	n, err := w.w.Write(p)
	w.n += int64(n)
	return n, err
}

// Written returns the number of bytes written so far.
func (w *RateLimitedWriter) Written() int64 { return w.n }
