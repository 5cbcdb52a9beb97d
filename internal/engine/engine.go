package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/confidant/internal/access"
	"github.com/lazypower/confidant/internal/audit"
	"github.com/lazypower/confidant/internal/classify"
	"github.com/lazypower/confidant/internal/directory"
	"github.com/lazypower/confidant/internal/errs"
	"github.com/lazypower/confidant/internal/logging"
	"github.com/lazypower/confidant/internal/memory"
	"github.com/lazypower/confidant/internal/search"
	"github.com/lazypower/confidant/internal/store"
	"github.com/lazypower/confidant/internal/tags"
)

// DefaultRecent is how many entries Recent and ListByTag return by default.
const DefaultRecent = 10

// Config tunes the engine's components. Zero values select defaults.
type Config struct {
	UnlockWindow    time.Duration
	VerifyInterval  time.Duration
	VerifyBurst     int
	HashParams      access.Params
	MinScore        float64
	Search          search.Config
	CleanupInterval time.Duration
	Clock           func() time.Time
}

// Engine wires classification, storage, the access gate, search and the
// audit trail into the operations the command surface exposes.
type Engine struct {
	DB        *store.DB
	Memory    *memory.Store
	Gate      *access.Gate
	Search    *search.Engine
	Directory directory.Directory
	Audit     *audit.Log

	logger          *zap.Logger
	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
}

// New creates a new Engine.
func New(db *store.DB, dir directory.Directory, cfg Config, logger *zap.Logger) (*Engine, error) {
	logger = logging.OrNop(logger)
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.HashParams == (access.Params{}) {
		cfg.HashParams = access.DefaultParams
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = memory.DefaultMinScore
	}
	if cfg.VerifyBurst <= 0 {
		cfg.VerifyBurst = 5
	}

	log := audit.New(db, logger)
	log.SetClock(cfg.Clock)

	mem := memory.New(db, log,
		memory.WithClock(cfg.Clock),
		memory.WithMinScore(cfg.MinScore),
		memory.WithLogger(logger))

	gateOpts := []access.Option{
		access.WithClock(cfg.Clock),
		access.WithParams(cfg.HashParams),
		access.WithLogger(logger),
		access.WithThrottle(cfg.VerifyInterval, cfg.VerifyBurst),
	}
	if cfg.UnlockWindow > 0 {
		gateOpts = append(gateOpts, access.WithWindow(cfg.UnlockWindow))
	}
	gate, err := access.New(db, log, gateOpts...)
	if err != nil {
		return nil, err
	}

	return &Engine{
		DB:              db,
		Memory:          mem,
		Gate:            gate,
		Search:          search.New(mem, gate, dir, log, cfg.Search, logger),
		Directory:       dir,
		Audit:           log,
		logger:          logger.Named("engine"),
		cleanupInterval: cfg.CleanupInterval,
		stopCh:          make(chan struct{}),
	}, nil
}

// Ingest classifies text and appends it to the sender's log.
func (e *Engine) Ingest(ctx context.Context, from, text, source, note string) (*store.Entry, error) {
	const op = "ingest"

	p, err := e.principal(ctx, op, from)
	if err != nil {
		return nil, err
	}
	text, err = e.validateContent(ctx, op, p, text)
	if err != nil {
		return nil, err
	}

	res := classify.Analyze(text)
	var related []string
	for _, m := range classify.Mentions(text) {
		if id, err := directory.NormalizePrincipal(m); err == nil && id != p {
			related = append(related, id)
		}
	}

	entry, err := e.Memory.Append(ctx, memory.NewEntry{
		PrincipalID:       p,
		Tag:               res.Tag,
		Content:           text,
		Source:            source,
		Confidence:        res.Confidence,
		RelatedPrincipals: related,
		Context:           note,
	})
	if errs.Is(err, errs.KindValidation) {
		e.Audit.Record(ctx, audit.AccessRejected, p, audit.Fields{"op": op, "reason": err.Error()})
	}
	return entry, err
}

// Enroll sets or rotates a principal's passphrase.
func (e *Engine) Enroll(ctx context.Context, who, passphrase string) error {
	p, err := e.principal(ctx, "enroll", who)
	if err != nil {
		return err
	}
	return e.Gate.Enroll(ctx, p, passphrase)
}

// Unlock verifies the passphrase and opens an unlock window.
func (e *Engine) Unlock(ctx context.Context, who, passphrase string) (*access.Session, error) {
	p, err := e.principal(ctx, "unlock", who)
	if err != nil {
		return nil, err
	}
	return e.Gate.Unlock(ctx, p, passphrase)
}

// Logout closes the unlock window early.
func (e *Engine) Logout(ctx context.Context, who string) (bool, error) {
	p, err := e.principal(ctx, "logout", who)
	if err != nil {
		return false, err
	}
	return e.Gate.Logout(ctx, p)
}

// Status reports where the principal is in the unlock state machine.
func (e *Engine) Status(ctx context.Context, who string) (access.State, *access.Session, error) {
	p, err := e.principal(ctx, "status", who)
	if err != nil {
		return access.Unenrolled, nil, err
	}
	return e.Gate.Status(ctx, p)
}

// SearchScoped runs a scoped search on behalf of who.
func (e *Engine) SearchScoped(ctx context.Context, who string, scope tags.Scope, query string, limit int) ([]memory.Hit, error) {
	p, err := e.principal(ctx, "search", who)
	if err != nil {
		return nil, err
	}
	return e.Search.Search(ctx, search.Request{Requester: p, Scope: scope, Query: query, Limit: limit})
}

// Recent lists the principal's newest visible entries.
func (e *Engine) Recent(ctx context.Context, who string, limit int) ([]store.Entry, error) {
	p, err := e.principal(ctx, "recent", who)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRecent
	}
	visible := tags.Visible(e.Gate.IsUnlocked(ctx, p))
	return e.Memory.List(memory.WithActor(ctx, p), p, visible, limit)
}

// ListByTag lists one tier of the principal's log. Tiers that require unlock
// are refused while locked.
func (e *Engine) ListByTag(ctx context.Context, who string, tag tags.Tag, limit int) ([]store.Entry, error) {
	const op = "list"

	p, err := e.principal(ctx, op, who)
	if err != nil {
		return nil, err
	}
	if !tag.Valid() {
		return nil, e.Reject(ctx, p, op, "unknown tag")
	}
	if tag.RequiresUnlock() && !e.Gate.IsUnlocked(ctx, p) {
		e.Audit.Record(ctx, audit.AccessDenied, p, audit.Fields{"op": op, "tag": string(tag)})
		return nil, errs.Authorization(op, "tier locked")
	}
	if limit <= 0 {
		limit = DefaultRecent
	}
	return e.Memory.List(memory.WithActor(ctx, p), p, tags.NewSet(tag), limit)
}

// Get fetches one of the principal's own entries. This is the only way to
// read ULTRA_SECRET content, and it requires an unlock like SECRET does.
// Entries owned by someone else are reported as not found.
func (e *Engine) Get(ctx context.Context, who, id string) (*store.Entry, error) {
	const op = "get"

	p, err := e.principal(ctx, op, who)
	if err != nil {
		return nil, err
	}
	entry, err := e.Memory.Peek(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.PrincipalID != p {
		e.Audit.Record(ctx, audit.AccessDenied, p, audit.Fields{"op": op, "id": id, "reason": "not owner"})
		return nil, errs.NotFound(op, "no such entry")
	}
	if entry.Tag.RequiresUnlock() && !e.Gate.IsUnlocked(ctx, p) {
		e.Audit.Record(ctx, audit.AccessDenied, p, audit.Fields{"op": op, "id": id, "tag": string(entry.Tag)})
		return nil, errs.Authorization(op, "tier locked")
	}
	return e.Memory.Get(memory.WithActor(ctx, p), id)
}

// Delete tombstones an entry. Owners may delete their own entries; anyone
// else needs the memory.delete.any capability, and without it the entry is
// reported as not found, as in Get.
func (e *Engine) Delete(ctx context.Context, who, id, reason string) error {
	const op = "delete"

	p, err := e.principal(ctx, op, who)
	if err != nil {
		return err
	}
	entry, err := e.Memory.Peek(ctx, id)
	if err != nil {
		return err
	}
	if entry.PrincipalID != p {
		ok, err := e.Directory.CanPerform(ctx, p, directory.CapDeleteAny)
		if err != nil {
			return errs.Transient(op, err)
		}
		if !ok {
			e.Audit.Record(ctx, audit.AccessDenied, p, audit.Fields{"op": op, "id": id, "reason": "not owner"})
			return errs.NotFound(op, "no such entry")
		}
	}
	return e.Memory.Delete(ctx, id, p, reason)
}

// AuditTrail returns recent audit records about target (default: who).
// Reading another principal's trail needs the audit.read.any capability.
func (e *Engine) AuditTrail(ctx context.Context, who, target string, limit int) ([]store.AuditRecord, error) {
	const op = "audit"

	p, err := e.principal(ctx, op, who)
	if err != nil {
		return nil, err
	}
	if target == "" {
		target = p
	} else if id, err := directory.NormalizePrincipal(target); err != nil {
		return nil, e.Reject(ctx, p, op, "invalid target")
	} else {
		target = id
	}
	if target != p {
		ok, err := e.Directory.CanPerform(ctx, p, directory.CapAuditReadAny)
		if err != nil {
			return nil, errs.Transient(op, err)
		}
		if !ok {
			e.Audit.Record(ctx, audit.AccessDenied, p, audit.Fields{"op": op, "target": target})
			return nil, errs.Authorization(op, "cannot read another principal's audit trail")
		}
		e.Audit.Record(ctx, audit.AuditRead, p, audit.Fields{"target": target})
	}
	if limit <= 0 {
		limit = 20
	}
	recs, err := e.Audit.Query(ctx, target, limit)
	if err != nil {
		return nil, errs.Transient(op, err)
	}
	return recs, nil
}

// CleanupExpired purges expired unlock sessions.
func (e *Engine) CleanupExpired(ctx context.Context) (int, error) {
	return e.Gate.CleanupExpired(ctx)
}

// StartCleanupTimer runs session cleanup on startup and then periodically.
// Expiry is still enforced lazily on every check; the timer only keeps the
// session table small.
func (e *Engine) StartCleanupTimer() {
	// Run once at startup
	e.runCleanup()

	go func() {
		ticker := time.NewTicker(e.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.runCleanup()
			case <-e.stopCh:
				return
			}
		}
	}()
}

func (e *Engine) runCleanup() {
	n, err := e.CleanupExpired(context.Background())
	if err != nil {
		e.logger.Warn("session cleanup failed", zap.Error(err))
	} else if n > 0 {
		e.logger.Info("session cleanup", zap.Int("purged", n))
	}
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}
