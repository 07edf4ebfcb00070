// Package scraper implements the Scrape Task Orchestrator (C7) and Parallel
// Task Manager (C8): a durable, controllable scheduler that drives a matrix
// of (source x area) combinations through pluggable Scraper implementations,
// with per-task pause/resume/cancel, timeout-on-pause, crash recovery, and
// both sequential and parallel execution modes.
package scraper

import (
	"context"

	"condoreconcile/models"
)

// Scraper is the external plug-in contract. Each source site
// (suumo, homes, rehouse, nomu, livable) gets its own instance; the
// orchestrator never inspects how a scraper fetches or renders a page.
//
// A Scraper owns both phases internally: phase A (list) paginates
// until maxProperties unique listings are collected or the site runs out of
// pages; phase B (detail) fetches a listing's detail page according to the
// eligibility rule. It checks safe points before every
// outbound request and between list pages, and stops emitting once a safe
// point observes Cancel.
type Scraper interface {
	Name() string
	SourceSite() string

	// ScrapeArea runs both phases for one area code and emits one
	// ScrapeEvent per resolved RawListing (or error) on the returned
	// channel, which is closed when the scraper is done, hits a fatal
	// error, or observes Cancel at a safe point.
	ScrapeArea(ctx context.Context, areaCode string, maxProperties int, flags *ControlFlags) <-chan ScrapeEvent

	// GetResumeState/SetResumeState checkpoint and restore the scraper's
	// phase/page/processed-count state. Called by the orchestrator
	// every 5 seconds, once at pause, and once on reconstruction after a
	// crash (the in-memory instance did not survive the process).
	GetResumeState() *models.ResumeState
	SetResumeState(*models.ResumeState)
}

// ScrapeEvent is one item off a Scraper's ScrapeArea channel.
type ScrapeEvent struct {
	Listing *models.RawListing
	// DetailFetched reports whether this listing went through phase B, so
	// the pair runner can attribute DetailFetched/DetailSkipped stats
	// without re-deriving the eligibility rule.
	DetailFetched bool
	// Err, when non-nil, classifies a per-listing failure per the
	// taxonomy; the pair runner logs it and continues with the next event
	// rather than aborting the pair.
	Err error
	Kind EventKind
}

// EventKind distinguishes the error taxonomy kinds a ScrapeEvent.Err may
// carry, so the pair runner can route each into the right counter/log type
// without string-matching error text.
type EventKind int

const (
	EventListing EventKind = iota
	EventNetworkTransient
	EventNetworkPermanent
	EventParseFailed
	EventPriceMismatch
)

// Factory builds a fresh Scraper instance for a source site, used both at
// first run and when the orchestrator must reconstruct an instance after a
// crash.
type Factory func() Scraper
