// Package search answers scoped queries across one or many principals'
// memory logs, exposing only the tiers each scope permits.
package search

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lazypower/confidant/internal/audit"
	"github.com/lazypower/confidant/internal/directory"
	"github.com/lazypower/confidant/internal/errs"
	"github.com/lazypower/confidant/internal/logging"
	"github.com/lazypower/confidant/internal/memory"
	"github.com/lazypower/confidant/internal/tags"
)

// Defaults for Config.
const (
	DefaultLimit       = 10
	DefaultMaxLimit    = 100
	DefaultConcurrency = 8
)

// UnlockChecker reports a principal's unlock state. The access gate is the
// production implementation.
type UnlockChecker interface {
	IsUnlocked(ctx context.Context, principalID string) bool
}

// Ranker ranks one principal's entries within a tag set.
type Ranker interface {
	Rank(ctx context.Context, principalID, query string, allowed tags.Set, limit int) ([]memory.Hit, error)
}

// Request is one scoped search.
type Request struct {
	Requester string
	Scope     tags.Scope
	Query     string
	Limit     int
}

// Config bounds search work.
type Config struct {
	DefaultLimit int
	MaxLimit     int
	Concurrency  int
}

// Engine runs scoped searches.
type Engine struct {
	mem    Ranker
	gate   UnlockChecker
	dir    directory.Directory
	audit  audit.Sink
	logger *zap.Logger
	cfg    Config
}

// New creates a search engine.
func New(mem Ranker, gate UnlockChecker, dir directory.Directory, sink audit.Sink, cfg Config, logger *zap.Logger) *Engine {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = DefaultMaxLimit
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Engine{
		mem:    mem,
		gate:   gate,
		dir:    dir,
		audit:  sink,
		logger: logging.OrNop(logger).Named("search"),
		cfg:    cfg,
	}
}

// Search authorises the requester for the scope, resolves the target
// principals and allowed tiers, ranks every target concurrently, and returns
// the merged top hits. Exactly one audit event is recorded per call.
func (e *Engine) Search(ctx context.Context, req Request) ([]memory.Hit, error) {
	const op = "search"
	start := time.Now()

	if !req.Scope.Valid() {
		e.audit.Record(ctx, audit.SearchRejected, req.Requester, audit.Fields{"reason": "unknown scope"})
		Searches.WithLabelValues(string(req.Scope), "rejected").Inc()
		return nil, errs.Validation(op, "unknown scope")
	}

	ok, err := e.dir.CanSearch(ctx, req.Requester, req.Scope)
	if err != nil {
		Searches.WithLabelValues(string(req.Scope), "error").Inc()
		return nil, errs.Transient(op, err)
	}
	if !ok {
		e.audit.Record(ctx, audit.SearchDenied, req.Requester, audit.Fields{"scope": string(req.Scope)})
		Searches.WithLabelValues(string(req.Scope), "denied").Inc()
		return nil, errs.Authorization(op, "scope not permitted")
	}

	if !memory.HasTerms(req.Query) {
		e.audit.Record(ctx, audit.SearchRejected, req.Requester, audit.Fields{
			"scope":  string(req.Scope),
			"reason": "empty query",
		})
		Searches.WithLabelValues(string(req.Scope), "rejected").Inc()
		return nil, errs.Validation(op, "query is empty")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	if limit > e.cfg.MaxLimit {
		limit = e.cfg.MaxLimit
	}

	targets, err := e.targets(ctx, req)
	if err != nil {
		Searches.WithLabelValues(string(req.Scope), "error").Inc()
		return nil, errs.Transient(op, err)
	}

	// Unlock state only widens the self scope.
	unlocked := req.Scope == tags.ScopeSelf && e.gate.IsUnlocked(ctx, req.Requester)
	allowed := tags.Allowed(req.Scope, unlocked)

	perTarget := make([][]memory.Hit, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, target := range targets {
		g.Go(func() error {
			hits, err := e.mem.Rank(gctx, target, req.Query, allowed, limit)
			if err != nil {
				return err
			}
			perTarget[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		Searches.WithLabelValues(string(req.Scope), "error").Inc()
		e.logger.Error("search failed", zap.String("requester", req.Requester), zap.String("scope", string(req.Scope)), zap.Error(err))
		if errs.KindOf(err) != errs.KindUnknown {
			return nil, err
		}
		return nil, errs.Transient(op, err)
	}

	var merged []memory.Hit
	for _, hits := range perTarget {
		merged = append(merged, hits...)
	}
	memory.SortHits(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}

	e.audit.Record(ctx, audit.SearchScoped, req.Requester, audit.Fields{
		"scope":    string(req.Scope),
		"query":    req.Query,
		"targets":  len(targets),
		"hits":     len(merged),
		"unlocked": unlocked,
	})
	Searches.WithLabelValues(string(req.Scope), "ok").Inc()
	Duration.WithLabelValues(string(req.Scope)).Observe(time.Since(start).Seconds())
	return merged, nil
}

func (e *Engine) targets(ctx context.Context, req Request) ([]string, error) {
	switch req.Scope {
	case tags.ScopeDepartment:
		return e.dir.MembersOfDepartment(ctx, req.Requester)
	case tags.ScopeTenant:
		return e.dir.MembersOfTenant(ctx, req.Requester)
	default:
		return []string{req.Requester}, nil
	}
}
