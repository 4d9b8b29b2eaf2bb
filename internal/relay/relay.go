// Package relay turns a provider's incremental completion into one normalized
// byte stream, wrapping reasoning segments in delimiters and accumulating
// everything emitted for persistence.
package relay

import (
	"context"
	"io"
	"strings"

	"github.com/tanmaysingewar/betterindex/internal/ai"
)

const (
	ReasoningOpen  = "<think>"
	ReasoningClose = "</think>"
)

// Relay writes normalized bytes to w, calling flush after each write when
// provided. It tracks a two-state mode (answering | reasoning) and
// closes the reasoning wrapper before answer text and at stream end.
type Relay struct {
	w         io.Writer
	flush     func()
	full      strings.Builder
	reasoning bool
}

func New(w io.Writer, flush func()) *Relay {
	return &Relay{w: w, flush: flush}
}

// Run consumes the provider stream until it ends, the context is cancelled,
// or the sink rejects a write. It returns the full emitted text (delimiters
// included) and the terminal error, if any. The caller closes the sink.
func (r *Relay) Run(ctx context.Context, chunks <-chan ai.Chunk, errs <-chan error) (string, error) {
	for {
		select {
		case <-ctx.Done():
			_ = r.closeReasoning()
			return r.full.String(), ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				if err := r.closeReasoning(); err != nil {
					return r.full.String(), err
				}
				// the provider closes errs after chunks; a buffered error
				// is still readable here
				if err, ok := <-errs; ok && err != nil {
					return r.full.String(), err
				}
				return r.full.String(), nil
			}
			if err := r.write(c); err != nil {
				return r.full.String(), err
			}
		}
	}
}

func (r *Relay) write(c ai.Chunk) error {
	if c.Reasoning && !r.reasoning {
		if err := r.emit(ReasoningOpen); err != nil {
			return err
		}
		r.reasoning = true
	}
	if !c.Reasoning && r.reasoning {
		if err := r.emit(ReasoningClose); err != nil {
			return err
		}
		r.reasoning = false
	}
	return r.emit(c.Text)
}

func (r *Relay) closeReasoning() error {
	if !r.reasoning {
		return nil
	}
	r.reasoning = false
	return r.emit(ReasoningClose)
}

func (r *Relay) emit(s string) error {
	if s == "" {
		return nil
	}
	if _, err := io.WriteString(r.w, s); err != nil {
		return err
	}
	r.full.WriteString(s)
	if r.flush != nil {
		r.flush()
	}
	return nil
}

// FullText returns everything emitted so far.
func (r *Relay) FullText() string { return r.full.String() }
