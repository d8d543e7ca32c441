// Package tail polls bookmarked threads for new posts, deduplicating
// against a persisted per-thread high-water mark so restarts do not
// resurface old posts.
package tail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sa-tail/client"
	"sa-tail/pkg/forum"
)

// Client is the slice of the forum client the engine polls through.
type Client interface {
	FetchBookmarkedThreads(ctx context.Context) ([]forum.Thread, error)
	FetchPosts(ctx context.Context, threadID string, page client.ThreadPage) ([]forum.Post, error)
}

// Store persists the seen-state between runs.
type Store interface {
	LoadHistory(ctx context.Context) (forum.History, error)
	SaveHistory(ctx context.Context, history forum.History) error
}

// Sink receives each newly surfaced post, in order.
type Sink interface {
	Emit(thread forum.Thread, post forum.Post) error
}

// Config holds the cooperative rate limits: fixed waits between surfaced
// posts, between polled threads, and between full cycles.
type Config struct {
	PostDelay   time.Duration
	ThreadDelay time.Duration
	CycleDelay  time.Duration
}

// Engine is the polling state machine. It owns the seen-state exclusively;
// nothing else reads or writes the history while the engine runs.
type Engine struct {
	client  Client
	store   Store
	sink    Sink
	cfg     Config
	logger  *slog.Logger
	history forum.History
}

// New creates a polling engine. The history is loaded from the store on
// the first cycle.
func New(c Client, store Store, sink Sink, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client: c,
		store:  store,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
	}
}

// Run polls until the context is cancelled or an operation fails. Errors
// are not retried here: a failed cycle means either the session or the
// extractors' structural assumptions have gone stale, and both deserve to
// be loud.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := e.Cycle(ctx); err != nil {
			return err
		}
		if err := sleep(ctx, e.cfg.CycleDelay); err != nil {
			return err
		}
	}
}

// Cycle performs one pass over all bookmarked threads with unread posts,
// then persists the history. Persistence is best-effort: a failure is
// logged and at worst re-delivers this cycle's posts on restart.
func (e *Engine) Cycle(ctx context.Context) error {
	if err := e.ensureHistory(ctx); err != nil {
		return err
	}

	threads, err := e.client.FetchBookmarkedThreads(ctx)
	if err != nil {
		return fmt.Errorf("fetch bookmarked threads: %w", err)
	}

	checked := 0
	for _, thread := range threads {
		if thread.Unread == 0 {
			continue
		}
		checked++
		if err := e.checkThread(ctx, thread); err != nil {
			return err
		}
		if err := sleep(ctx, e.cfg.ThreadDelay); err != nil {
			return err
		}
	}

	if err := e.store.SaveHistory(ctx, e.history); err != nil {
		e.logger.Warn("Failed to persist history", "error", err)
	}

	e.logger.Debug("Poll cycle completed", "threads", len(threads), "checked", checked)
	return nil
}

func (e *Engine) checkThread(ctx context.Context, thread forum.Thread) error {
	posts, err := e.client.FetchPosts(ctx, thread.ID, client.UnreadPage)
	if err != nil {
		return fmt.Errorf("fetch unread posts for thread %s: %w", thread.ID, err)
	}

	emitted := 0
	for _, post := range posts {
		// The unread page contains posts already surfaced in earlier
		// cycles; the high-water mark filters them out.
		if e.history.Seen(thread.ID, post.Index) {
			continue
		}
		if err := e.sink.Emit(thread, post); err != nil {
			return fmt.Errorf("emit post %s: %w", post.ID, err)
		}
		e.history.Mark(thread.ID, post.Index)
		emitted++

		if err := sleep(ctx, e.cfg.PostDelay); err != nil {
			return err
		}
	}

	e.logger.Info("Thread checked",
		"thread_id", thread.ID,
		"title", thread.Title,
		"unread", thread.Unread,
		"fetched", len(posts),
		"emitted", emitted)
	return nil
}

func (e *Engine) ensureHistory(ctx context.Context) error {
	if e.history != nil {
		return nil
	}
	history, err := e.store.LoadHistory(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if history == nil {
		history = forum.History{}
	}
	e.history = history
	e.logger.Debug("History loaded", "threads", len(history))
	return nil
}

// sleep waits for d or until the context is cancelled, whichever is
// first. This is the only blocking point besides network I/O, so a
// cancelled context stops the engine promptly even mid-wait.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
