// Package twilio adapts the upstream messages REST API to a paginated
// message source the sync controller can drain.
package twilio

import (
	"context"
	"time"

	"github.com/miloview/miloview/internal/config"
	"github.com/miloview/miloview/internal/store"
	"go.uber.org/zap"
)

// Filter bounds a message listing by sent time.
type Filter struct {
	SentAfter  time.Time
	SentBefore time.Time
	PageSize   int
}

// PageFunc receives one page of fetched messages. Returning false stops
// pagination early; returning an error aborts the listing.
type PageFunc func(page []store.Message) (bool, error)

// Source is a paginated message source. List calls fn once per fetched
// page until pages run out, fn stops the iteration, or a page fails.
// Pages already delivered to fn stand even when a later page fails.
type Source interface {
	List(ctx context.Context, f Filter, fn PageFunc) error
	Demo() bool
}

// NewSource selects the live client or the demo fixture source based on
// whether upstream credentials are configured. Missing credentials are
// a permanent mode switch, not an error.
func NewSource(cfg config.Upstream, logger *zap.Logger) Source {
	if cfg.Demo() {
		logger.Info("upstream credentials absent, running in demo mode")
		return NewDemoSource()
	}
	return NewClient(cfg, logger)
}
