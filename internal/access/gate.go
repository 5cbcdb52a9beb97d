// Package access owns passphrase enrolment and the short-lived unlock session
// that makes a principal's SECRET tier visible to their own searches.
//
// Per principal the gate moves through UNENROLLED -> ENROLLED -> UNLOCKED and
// back to ENROLLED on expiry or logout. IsUnlocked is the only authority on
// unlock state; nothing else caches it.
package access

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lazypower/confidant/internal/audit"
	"github.com/lazypower/confidant/internal/errs"
	"github.com/lazypower/confidant/internal/keyed"
	"github.com/lazypower/confidant/internal/logging"
	"github.com/lazypower/confidant/internal/store"
)

// DefaultWindow is how long an unlock lasts.
const DefaultWindow = 10 * time.Minute

const maxPassphraseLen = 256

// State is a principal's position in the gate's state machine.
type State int

const (
	Unenrolled State = iota
	Enrolled
	Unlocked
)

func (s State) String() string {
	switch s {
	case Enrolled:
		return "enrolled"
	case Unlocked:
		return "unlocked"
	default:
		return "unenrolled"
	}
}

// Session is an active unlock window.
type Session struct {
	PrincipalID string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Gate enrols, verifies and tracks unlock sessions.
type Gate struct {
	db     *store.DB
	audit  audit.Sink
	logger *zap.Logger
	now    func() time.Time
	window time.Duration
	params Params

	principals keyed.Mutex

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
	interval time.Duration
	burst    int

	dummySalt []byte
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces the wall clock, for deterministic expiry.
func WithClock(now func() time.Time) Option { return func(g *Gate) { g.now = now } }

// WithWindow sets the unlock duration.
func WithWindow(d time.Duration) Option { return func(g *Gate) { g.window = d } }

// WithParams sets the argon2id cost for new enrolments.
func WithParams(p Params) Option { return func(g *Gate) { g.params = p } }

// WithThrottle allows burst verify attempts per principal, refilled one per
// interval. A zero interval disables throttling.
func WithThrottle(interval time.Duration, burst int) Option {
	return func(g *Gate) {
		if interval <= 0 {
			g.every = rate.Inf
		} else {
			g.every = rate.Every(interval)
		}
		g.interval = interval
		g.burst = burst
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(g *Gate) { g.logger = l } }

// New creates a gate over db.
func New(db *store.DB, sink audit.Sink, opts ...Option) (*Gate, error) {
	g := &Gate{
		db:       db,
		audit:    sink,
		now:      time.Now,
		window:   DefaultWindow,
		params:   DefaultParams,
		limiters: make(map[string]*rate.Limiter),
		every:    rate.Every(30 * time.Second),
		interval: 30 * time.Second,
		burst:    5,
	}
	for _, o := range opts {
		o(g)
	}
	g.logger = logging.OrNop(g.logger).Named("access")

	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	g.dummySalt = salt
	return g, nil
}

// Window returns the unlock duration.
func (g *Gate) Window() time.Duration { return g.window }

// Enroll stores a salted hash of passphrase, replacing any earlier one.
func (g *Gate) Enroll(ctx context.Context, principalID, passphrase string) error {
	const op = "access.enroll"

	norm := Normalize(passphrase)
	if principalID == "" || norm == "" || len(norm) > maxPassphraseLen {
		g.audit.Record(ctx, audit.AccessRejected, principalID, audit.Fields{"op": op})
		return errs.Validation(op, "passphrase must contain letters or digits")
	}

	salt, err := newSalt()
	if err != nil {
		return errs.Transient(op, err)
	}

	unlock := g.principals.Lock(principalID)
	defer unlock()

	prior, err := g.db.GetPassphrase(ctx, principalID)
	if err != nil {
		return errs.Transient(op, err)
	}
	rec := &store.Passphrase{
		PrincipalID: principalID,
		Hash:        g.params.hash(norm, salt),
		Salt:        salt,
		Params:      g.params.String(),
		EnrolledAt:  g.now().UnixMilli(),
	}
	if err := g.db.SavePassphrase(ctx, rec); err != nil {
		return errs.Transient(op, err)
	}

	g.audit.Record(ctx, audit.AccessEnroll, principalID, audit.Fields{"rotated": prior != nil})
	return nil
}

// Verify checks passphrase against the enrolled hash in constant time. Every
// failure, including "not enrolled" and "too many attempts", is the same
// generic authentication error and produces exactly one audit record.
func (g *Gate) Verify(ctx context.Context, principalID, passphrase string) (bool, error) {
	unlock := g.principals.Lock(principalID)
	defer unlock()
	return g.verify(ctx, principalID, passphrase)
}

func (g *Gate) verify(ctx context.Context, principalID, passphrase string) (bool, error) {
	const op = "access.verify"

	if !g.allow(ctx, principalID) {
		VerifyAttempts.WithLabelValues("throttled").Inc()
		g.audit.Record(ctx, audit.AccessVerifyFailed, principalID, audit.Fields{"reason": "throttled"})
		return false, errs.Authentication(op)
	}

	rec, err := g.db.GetPassphrase(ctx, principalID)
	if err != nil {
		return false, errs.Transient(op, err)
	}

	norm := Normalize(passphrase)
	ok := false
	if rec == nil {
		// Spend the same work as a real check so timing does not reveal
		// whether the principal is enrolled.
		equal(g.params.hash(norm, g.dummySalt), make([]byte, g.params.KeyLen))
	} else {
		p, err := parseParams(rec.Params)
		if err != nil {
			g.logger.Error("stored passphrase unreadable", zap.String("principal", principalID), zap.Error(err))
		} else {
			ok = equal(p.hash(norm, rec.Salt), rec.Hash) && norm != ""
		}
	}

	if !ok {
		VerifyAttempts.WithLabelValues("failure").Inc()
		g.audit.Record(ctx, audit.AccessVerifyFailed, principalID, nil)
		return false, errs.Authentication(op)
	}

	VerifyAttempts.WithLabelValues("success").Inc()
	g.audit.Record(ctx, audit.AccessVerified, principalID, nil)
	return true, nil
}

// MarkUnlocked opens a fresh unlock window, replacing any existing one.
func (g *Gate) MarkUnlocked(ctx context.Context, principalID string) (*Session, error) {
	unlock := g.principals.Lock(principalID)
	defer unlock()
	return g.markUnlocked(ctx, principalID)
}

func (g *Gate) markUnlocked(ctx context.Context, principalID string) (*Session, error) {
	now := g.now()
	s := &Session{PrincipalID: principalID, IssuedAt: now, ExpiresAt: now.Add(g.window)}
	err := g.db.PutUnlockSession(ctx, &store.UnlockSession{
		PrincipalID: principalID,
		IssuedAt:    s.IssuedAt.UnixMilli(),
		ExpiresAt:   s.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return nil, errs.Transient("access.mark_unlocked", err)
	}
	g.audit.Record(ctx, audit.AccessUnlock, principalID, audit.Fields{"expires_at": s.ExpiresAt.UnixMilli()})
	return s, nil
}

// Unlock verifies passphrase and, on success, opens an unlock window. The
// check and the session write happen under one per-principal lock, so two
// concurrent unlocks never leave overlapping sessions: the later one wins.
func (g *Gate) Unlock(ctx context.Context, principalID, passphrase string) (*Session, error) {
	unlock := g.principals.Lock(principalID)
	defer unlock()

	if _, err := g.verify(ctx, principalID, passphrase); err != nil {
		return nil, err
	}
	return g.markUnlocked(ctx, principalID)
}

// IsUnlocked reports whether principal holds a session that has not expired.
// An expired session found here is purged. Storage errors read as locked.
func (g *Gate) IsUnlocked(ctx context.Context, principalID string) bool {
	s, err := g.db.GetUnlockSession(ctx, principalID)
	if err != nil {
		g.logger.Warn("read unlock session failed", zap.String("principal", principalID), zap.Error(err))
		return false
	}
	if s == nil {
		return false
	}
	now := g.now().UnixMilli()
	if now < s.ExpiresAt {
		return true
	}

	unlock := g.principals.Lock(principalID)
	defer unlock()
	// Only sessions expired as of now go; a session replaced meanwhile survives.
	if n, err := g.db.DeleteExpiredUnlockSessions(ctx, principalID, now); err != nil {
		g.logger.Warn("purge expired session failed", zap.String("principal", principalID), zap.Error(err))
	} else {
		SessionsPurged.Add(float64(n))
	}
	return false
}

// Logout ends principal's unlock window. It reports whether one existed.
func (g *Gate) Logout(ctx context.Context, principalID string) (bool, error) {
	unlock := g.principals.Lock(principalID)
	defer unlock()

	existed, err := g.db.DeleteUnlockSession(ctx, principalID)
	if err != nil {
		return false, errs.Transient("access.logout", err)
	}
	g.audit.Record(ctx, audit.AccessLogout, principalID, audit.Fields{"had_session": existed})
	return existed, nil
}

// CleanupExpired purges every session whose expiry is at or before now. It
// never removes a session that is still in the future and is safe to call
// repeatedly.
func (g *Gate) CleanupExpired(ctx context.Context) (int, error) {
	now := g.now()
	n, err := g.db.DeleteExpiredUnlockSessions(ctx, "", now.UnixMilli())
	if err != nil {
		return 0, errs.Transient("access.cleanup", err)
	}
	if n > 0 {
		SessionsPurged.Add(float64(n))
		g.audit.Record(ctx, audit.AccessCleanup, "system", audit.Fields{"purged": n})
	}
	g.pruneLimiters(now)
	return n, nil
}

// Status returns principal's state and, when unlocked, the active session.
func (g *Gate) Status(ctx context.Context, principalID string) (State, *Session, error) {
	const op = "access.status"

	rec, err := g.db.GetPassphrase(ctx, principalID)
	if err != nil {
		return Unenrolled, nil, errs.Transient(op, err)
	}
	if rec == nil {
		return Unenrolled, nil, nil
	}
	if !g.IsUnlocked(ctx, principalID) {
		return Enrolled, nil, nil
	}
	s, err := g.db.GetUnlockSession(ctx, principalID)
	if err != nil {
		return Enrolled, nil, errs.Transient(op, err)
	}
	if s == nil {
		return Enrolled, nil, nil
	}
	return Unlocked, &Session{
		PrincipalID: principalID,
		IssuedAt:    time.UnixMilli(s.IssuedAt),
		ExpiresAt:   time.UnixMilli(s.ExpiresAt),
	}, nil
}

func (g *Gate) allow(ctx context.Context, principalID string) bool {
	if g.every == rate.Inf {
		return true
	}
	g.limitMu.Lock()
	l, ok := g.limiters[principalID]
	if !ok {
		l = g.replayLimiter(ctx, principalID)
		g.limiters[principalID] = l
	}
	g.limitMu.Unlock()
	return l.AllowN(g.now(), 1)
}

// replayLimiter builds a principal's limiter from the verify attempts already
// in the audit trail, so a new process (one CLI run per attempt) inherits the
// throttle. Attempts older than a full refill cannot matter and are skipped.
func (g *Gate) replayLimiter(ctx context.Context, principalID string) *rate.Limiter {
	l := rate.NewLimiter(g.every, g.burst)
	since := g.now().Add(-time.Duration(g.burst) * g.interval).UnixMilli()
	times, err := g.db.AuditTimes(ctx, principalID, since, audit.AccessVerified, audit.AccessVerifyFailed)
	if err != nil {
		g.logger.Warn("replay verify attempts failed", zap.String("principal", principalID), zap.Error(err))
		return l
	}
	for _, ts := range times {
		l.AllowN(time.UnixMilli(ts), 1)
	}
	return l
}

// pruneLimiters forgets limiters that have refilled completely.
func (g *Gate) pruneLimiters(now time.Time) {
	g.limitMu.Lock()
	defer g.limitMu.Unlock()
	for id, l := range g.limiters {
		if l.TokensAt(now) >= float64(g.burst) {
			delete(g.limiters, id)
		}
	}
}
