// Package agent drives the grid from model output: a safe-call
// interpreter over an allowlisted function set, a deferred mutation
// batcher, the bounded multi-step loop, and the state snapshot that
// becomes the system prompt.
package agent

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/odgrid/internal/grid"
)

// Batcher scopes a run of interpreted statements so that consecutive
// mutations share one reload. Inside a scope the session defers
// reloads; FlushIfNeeded runs the accumulated reload at operation
// boundaries and Exit runs any final one.
type Batcher struct {
	session *grid.Session
	logger  *slog.Logger
}

// NewBatcher creates a batcher for the session. logger may be nil.
func NewBatcher(session *grid.Session, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Batcher{session: session, logger: logger}
}

// Enter starts a batch scope.
func (b *Batcher) Enter() {
	b.session.SetDeferReload(true)
}

// FlushIfNeeded runs the pending reload, if any, and re-enters the
// scope. It reports whether a reload ran; returned strings are
// feedback-ready error descriptions.
func (b *Batcher) FlushIfNeeded(ctx context.Context) (bool, []string) {
	if !b.session.ConsumeReloadNeeded() {
		return false, nil
	}
	b.session.SetDeferReload(false)
	errs := b.load(ctx)
	b.session.SetDeferReload(true)
	return true, errs
}

// Exit ends the batch scope, running any reload still pending.
func (b *Batcher) Exit(ctx context.Context) []string {
	b.session.SetDeferReload(false)
	if !b.session.ConsumeReloadNeeded() {
		return nil
	}
	return b.load(ctx)
}

func (b *Batcher) load(ctx context.Context) []string {
	var errs []string
	if err := b.session.LoadData(ctx); err != nil {
		b.logger.Warn("batched reload failed", "error", err)
		errs = append(errs, "loadData() failed: "+err.Error())
	}
	if msg := b.session.LastLoadError(); msg != "" {
		errs = append(errs, msg)
	}
	return errs
}
