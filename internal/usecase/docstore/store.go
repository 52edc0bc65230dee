// Package docstore provides a sandboxed, file-like view over a flat object
// bucket. Every key a Store produces begins with its root prefix.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"conclave/internal/domain"
	"conclave/internal/infra/tracer"
)

const (
	defaultAttempts  = 3
	defaultBaseDelay = 50 * time.Millisecond
)

// Options tunes a Store.
type Options struct {
	Attempts  int           // total tries per bucket call (default 3)
	BaseDelay time.Duration // first backoff delay, doubled per retry (default 50ms)
	Logger    *slog.Logger
	Now       func() time.Time
}

// Store scopes document operations to a single root prefix of a bucket.
type Store struct {
	bucket domain.Bucket
	root   string
	author string
	opts   Options
}

var _ domain.DocumentStore = (*Store)(nil)

// New returns a Store writing under root on behalf of author.
// root is used verbatim and should end with "/".
func New(bucket domain.Bucket, root, author string, opts Options) *Store {
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{bucket: bucket, root: root, author: author, opts: opts}
}

// Write stores content at path, replacing any previous content.
func (s *Store) Write(ctx context.Context, path, content string) error {
	rel, err := NormalizePath(path)
	if err != nil {
		return err
	}
	key := s.root + rel

	ctx, span := tracer.StartSpan(ctx, "docstore.write")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("docstore.key", key), tracer.IntAttr("docstore.size", len(content)))

	meta := domain.ObjectMeta{Author: s.author, WrittenAt: s.opts.Now().UTC()}
	err = s.withRetry(ctx, "write", func(ctx context.Context) error {
		return s.bucket.Put(ctx, key, []byte(content), meta)
	})
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}
	tracer.SetOK(span)
	s.opts.Logger.Debug("document written", "key", key, "author", s.author, "size", len(content))
	return nil
}

// Read returns the content at path. Absent documents, including prefixes
// that only exist as "directories", report ok=false.
func (s *Store) Read(ctx context.Context, path string) (string, bool, error) {
	rel, err := NormalizePath(path)
	if err != nil {
		return "", false, err
	}
	key := s.root + rel

	ctx, span := tracer.StartSpan(ctx, "docstore.read")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("docstore.key", key))

	var (
		obj *domain.Object
		ok  bool
	)
	err = s.withRetry(ctx, "read", func(ctx context.Context) error {
		var gerr error
		obj, ok, gerr = s.bucket.Get(ctx, key)
		return gerr
	})
	if err != nil {
		tracer.RecordError(span, err)
		return "", false, err
	}
	tracer.SetOK(span)
	if !ok || obj == nil {
		return "", false, nil
	}
	return string(obj.Data), true, nil
}

// List returns the relative paths of documents under dir (the whole root
// when dir is empty), sorted and de-duplicated.
func (s *Store) List(ctx context.Context, dir string) ([]string, error) {
	rel, err := normalizeDir(dir)
	if err != nil {
		return nil, err
	}
	prefix := s.root
	if rel != "" {
		prefix += rel + "/"
	}

	ctx, span := tracer.StartSpan(ctx, "docstore.list")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("docstore.prefix", prefix))

	var keys []string
	err = s.withRetry(ctx, "list", func(ctx context.Context) error {
		var lerr error
		keys, lerr = s.bucket.List(ctx, prefix)
		return lerr
	})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if name := strings.TrimPrefix(k, s.root); name != "" {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// withRetry runs fn up to opts.Attempts times with exponential backoff.
// Exhaustion is reported as ErrStorageUnavailable wrapping the last error.
func (s *Store) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := range s.opts.Attempts {
		if attempt > 0 {
			delay := s.backoff(attempt - 1)
			s.opts.Logger.Warn("retrying bucket call", "op", op, "attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return fmt.Errorf("docstore %s: %w", op, ctx.Err())
			case <-time.After(delay):
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return fmt.Errorf("docstore %s: %w", op, lastErr)
		}
	}
	return domain.NewSubSystemError("docstore", "docstore."+op,
		fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, lastErr),
		fmt.Sprintf("%d attempts", s.opts.Attempts))
}

func (s *Store) backoff(retry int) time.Duration {
	delay := s.opts.BaseDelay * time.Duration(1<<uint(retry))
	// 0-25% jitter.
	return delay + time.Duration(rand.Int64N(int64(delay/4)+1))
}
