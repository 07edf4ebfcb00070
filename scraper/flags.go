package scraper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DetailGate lets a Scraper consult the retry ledger (C9) before spending a
// request on a listing's detail page, so a URL that is 404ing or sitting on
// an unresolved list/detail price mismatch is skipped rather than retried
// on every pass. A real Scraper implementation calls ShouldSkipDetail once
// per listing, right before it would otherwise issue the detail request.
type DetailGate interface {
	ShouldSkipDetail(ctx context.Context, sourceSite, sitePropertyID string) bool
}

// ControlFlags is the pause/cancel pair a task shares by reference with its
// in-flight scraper instance. Both are level-triggered ("set" is
// the signal, not an edge) and shared by reference — a pause/resume must
// not swap the object identity, or a running worker would never observe it.
// Flag-set operations are atomic and never take the task mutex. The detail
// gate rides along on the same object since it is set once, before
// ScrapeArea starts, and read many times from the scraper's goroutine.
type ControlFlags struct {
	paused atomic.Bool
	cancelled atomic.Bool

	gateMu sync.Mutex
	gate DetailGate
}

// NewControlFlags returns a fresh, unset pair.
func NewControlFlags() *ControlFlags {
	return &ControlFlags{}
}

func (f *ControlFlags) SetPaused(v bool) { f.paused.Store(v) }
func (f *ControlFlags) IsPaused() bool { return f.paused.Load() }
func (f *ControlFlags) SetCancelled() { f.cancelled.Store(true) }
func (f *ControlFlags) IsCancelled() bool { return f.cancelled.Load() }

// SetDetailGate installs the C9 consultation hook. Called once by the pair
// runner before the scraper starts; nil is a valid value and leaves detail
// fetch unconditional.
func (f *ControlFlags) SetDetailGate(g DetailGate) {
	f.gateMu.Lock()
	defer f.gateMu.Unlock()
	f.gate = g
}

// ShouldSkipDetail reports whether the caller should skip a listing's
// detail fetch. Returns false (never skip) when no gate was installed.
func (f *ControlFlags) ShouldSkipDetail(ctx context.Context, sourceSite, sitePropertyID string) bool {
	f.gateMu.Lock()
	gate := f.gate
	f.gateMu.Unlock()
	if gate == nil {
		return false
	}
	return gate.ShouldSkipDetail(ctx, sourceSite, sitePropertyID)
}

// SafePointDecision replaces the source's TaskPausedException /
// TaskCancelledException with an explicit result value:
// the safe-point helper returns one of these, and the caller decides what
// to do next instead of unwinding via a panic.
type SafePointDecision int

const (
	Continue SafePointDecision = iota
	Pause
	Cancel
)

// pausePollInterval is the short-interval wait loop specifies while
// blocked on a pause.
const pausePollInterval = 100 * time.Millisecond

// CheckSafePoint. Cancel is checked first and always
// wins: once set, neither pause nor resume has any further effect. If pause
// is set, CheckSafePoint blocks in a 100ms poll loop, re-checking both
// flags, until pause clears (returns Continue) or cancel fires (returns
// Cancel) — which is how the orchestrator's watchdog, on observing
// PAUSE_TIMEOUT, releases a blocked worker by flipping cancel.
func CheckSafePoint(flags *ControlFlags) SafePointDecision {
	if flags.IsCancelled() {
		return Cancel
	}
	if !flags.IsPaused() {
		return Continue
	}
	for {
		time.Sleep(pausePollInterval)
		if flags.IsCancelled() {
			return Cancel
		}
		if !flags.IsPaused() {
			return Continue
		}
	}
}
