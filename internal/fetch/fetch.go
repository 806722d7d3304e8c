package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Getter performs a single retrieval of the payload behind a locator.
type Getter interface {
	Get(ctx context.Context, locator string) ([]byte, error)
}

// Kind classifies the result of a fetch attempt.
type Kind int

const (
	Success Kind = iota
	Transient
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of one attempt (Success or Transient) or of a whole
// Fetch call (Success or Fatal).
type Outcome struct {
	Kind     Kind
	Body     []byte
	Err      error
	Attempts int
}

// FatalError is returned once every attempt for a locator has failed.
type FatalError struct {
	Locator  string
	Attempts int
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.Locator, e.Attempts, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Options configures the retry policy.
type Options struct {
	// MaxAttempts is the total number of attempts, including the first one.
	// Default: 3
	MaxAttempts int

	// BaseDelay is the wait after the first failed attempt. It doubles after
	// every further failure. Zero disables waiting.
	// Default: 1s
	BaseDelay time.Duration

	// Sleep waits for d or until ctx is done. Default: timer based.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnAttempt, if set, is called after every attempt.
	OnAttempt func(locator string, elapsed time.Duration, err error)
}

// DefaultOptions returns the retry policy used by the sync command.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
	}
}

// Fetcher wraps a Getter with bounded retries and exponential backoff.
type Fetcher struct {
	getter Getter
	opts   Options
	logger *slog.Logger
}

// NewFetcher creates a Fetcher. Non-positive MaxAttempts falls back to the
// default; a negative BaseDelay is treated as zero.
func NewFetcher(getter Getter, opts Options, logger *slog.Logger) *Fetcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if opts.BaseDelay < 0 {
		opts.BaseDelay = 0
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fetcher{getter: getter, opts: opts, logger: logger}
}

// Fetch retrieves locator, retrying every failure until MaxAttempts is
// exhausted. The returned Outcome is either Success or Fatal.
func (f *Fetcher) Fetch(ctx context.Context, locator string) Outcome {
	var last Outcome
	for attempt := 0; attempt < f.opts.MaxAttempts; attempt++ {
		last = f.attempt(ctx, locator)
		last.Attempts = attempt + 1
		if last.Kind == Success {
			return last
		}

		if attempt == f.opts.MaxAttempts-1 {
			break
		}

		delay := Backoff(f.opts.BaseDelay, attempt)
		f.logger.Warn("retrying fetch",
			"locator", locator,
			"attempt", attempt+1,
			"max_attempts", f.opts.MaxAttempts,
			"delay", delay,
			"error", last.Err)

		if err := f.opts.Sleep(ctx, delay); err != nil {
			last.Err = fmt.Errorf("backoff interrupted: %w (last error: %v)", err, last.Err)
			break
		}
	}

	return Outcome{
		Kind:     Fatal,
		Err:      &FatalError{Locator: locator, Attempts: last.Attempts, Err: last.Err},
		Attempts: last.Attempts,
	}
}

// attempt performs one retrieval. Every failure, whatever its cause, is
// reported as Transient.
func (f *Fetcher) attempt(ctx context.Context, locator string) Outcome {
	start := time.Now()
	body, err := f.getter.Get(ctx, locator)
	if f.opts.OnAttempt != nil {
		f.opts.OnAttempt(locator, time.Since(start), err)
	}
	if err != nil {
		return Outcome{Kind: Transient, Err: err}
	}
	return Outcome{Kind: Success, Body: body}
}

// Backoff returns the wait that follows the failed attempt with the given
// zero-based index: base * 2^attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 || attempt < 0 {
		return 0
	}
	return base * time.Duration(1<<uint(attempt))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
