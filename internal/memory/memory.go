// Package memory is the tier-partitioned, append-only memory log. Each
// principal owns one ordered section per tag; reads restricted to a tag set
// never touch sections outside it.
package memory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lazypower/confidant/internal/audit"
	"github.com/lazypower/confidant/internal/errs"
	"github.com/lazypower/confidant/internal/keyed"
	"github.com/lazypower/confidant/internal/logging"
	"github.com/lazypower/confidant/internal/store"
	"github.com/lazypower/confidant/internal/tags"
)

// Sources an entry can arrive from.
const (
	SourceText  = "text"
	SourceVoice = "voice"
	SourceOther = "other"
)

// DefaultMinScore is the relevance floor below which search hits are dropped.
const DefaultMinScore = 0.1

// NewEntry is the caller-supplied part of an entry. The store assigns id,
// sequence number and timestamp.
type NewEntry struct {
	PrincipalID       string
	Tag               tags.Tag
	Content           string
	Source            string
	Confidence        float64
	RelatedPrincipals []string
	Context           string
}

// Hit is a scored search result.
type Hit struct {
	Entry store.Entry
	Score float64
}

// Store appends to and reads from principals' memory logs.
type Store struct {
	db       *store.DB
	audit    audit.Sink
	logger   *zap.Logger
	now      func() time.Time
	minScore float64
	sections keyed.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the timestamp source for new entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMinScore sets the search relevance floor.
func WithMinScore(min float64) Option {
	return func(s *Store) { s.minScore = min }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a memory store over db, emitting events into sink.
func New(db *store.DB, sink audit.Sink, opts ...Option) *Store {
	s := &Store{
		db:       db,
		audit:    sink,
		now:      time.Now,
		minScore: DefaultMinScore,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = logging.OrNop(s.logger).Named("memory")
	return s
}

type actorKey struct{}

// WithActor records who is acting on behalf of a request, so read events are
// attributed to the reader rather than the owner of the entries.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context, fallback string) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return fallback
}

// Append creates a new immutable entry at the end of its (principal, tag)
// section. Every call creates a new entry; nothing is merged. Storage failures
// are returned as transient errors and never queued.
func (s *Store) Append(ctx context.Context, ne NewEntry) (*store.Entry, error) {
	const op = "memory.append"

	if strings.TrimSpace(ne.PrincipalID) == "" {
		return nil, errs.Validation(op, "principal is required")
	}
	if !ne.Tag.Valid() {
		return nil, errs.Validation(op, "unknown tag")
	}
	if strings.TrimSpace(ne.Content) == "" {
		return nil, errs.Validation(op, "content is empty")
	}
	if ne.Source == "" {
		ne.Source = SourceText
	}
	switch ne.Source {
	case SourceText, SourceVoice, SourceOther:
	default:
		return nil, errs.Validation(op, "unknown source")
	}
	if ne.Confidence < 0 || ne.Confidence > 1 {
		return nil, errs.Validation(op, "confidence out of range")
	}

	related := ne.RelatedPrincipals
	if related == nil {
		related = []string{}
	}
	e := &store.Entry{
		ID:                uuid.NewString(),
		PrincipalID:       ne.PrincipalID,
		Tag:               ne.Tag,
		Content:           ne.Content,
		Source:            ne.Source,
		Confidence:        ne.Confidence,
		RelatedPrincipals: related,
		Context:           ne.Context,
		CreatedAt:         s.now().UnixMilli(),
	}

	unlock := s.sections.Lock(ne.PrincipalID + "\x00" + string(ne.Tag))
	err := s.db.InsertEntry(ctx, e)
	unlock()
	if err != nil {
		AppendFailures.Inc()
		s.logger.Error("append failed", zap.String("principal", ne.PrincipalID), zap.String("tag", string(ne.Tag)), zap.Error(err))
		return nil, errs.Transient(op, err)
	}

	Appends.WithLabelValues(string(e.Tag)).Inc()
	s.audit.Record(ctx, audit.MemoryAppend, e.PrincipalID, audit.Fields{
		"id":     e.ID,
		"tag":    string(e.Tag),
		"seq":    e.Seq,
		"source": e.Source,
	})
	return e, nil
}

// List returns live entries of principal whose tag is in allowed, newest
// first. limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, principalID string, allowed tags.Set, limit int) ([]store.Entry, error) {
	entries, err := s.db.ListEntries(ctx, principalID, allowed.Slice(), limit)
	if err != nil {
		return nil, errs.Transient("memory.list", err)
	}
	s.audit.Record(ctx, audit.MemoryList, actorFrom(ctx, principalID), audit.Fields{
		"principal": principalID,
		"tags":      allowed.Strings(),
		"count":     len(entries),
	})
	return entries, nil
}

// Search ranks principal's live entries in the allowed sections against
// query and records a memory.search event.
func (s *Store) Search(ctx context.Context, principalID, query string, allowed tags.Set, limit int) ([]Hit, error) {
	hits, err := s.Rank(ctx, principalID, query, allowed, limit)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.MemorySearch, actorFrom(ctx, principalID), audit.Fields{
		"principal": principalID,
		"tags":      allowed.Strings(),
		"hits":      len(hits),
	})
	return hits, nil
}

// Rank is Search without the audit record, for callers that fan out over
// many principals and record one summary event themselves. Hits at or below
// the relevance floor are dropped; the rest are sorted by score, then recency,
// and truncated to limit (<= 0 means no limit).
func (s *Store) Rank(ctx context.Context, principalID, query string, allowed tags.Set, limit int) ([]Hit, error) {
	const op = "memory.search"

	q := newQuery(query)
	if q.empty() {
		return nil, errs.Validation(op, "query is empty")
	}

	entries, err := s.db.ListEntries(ctx, principalID, allowed.Slice(), 0)
	if err != nil {
		return nil, errs.Transient(op, err)
	}

	var hits []Hit
	for _, e := range entries {
		if sc := q.score(e.Content); sc > s.minScore {
			hits = append(hits, Hit{Entry: e, Score: sc})
		}
	}
	SortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Get returns a live entry by id. It is the only read path that can reach
// ULTRA_SECRET content; callers enforce ownership and unlock before calling.
func (s *Store) Get(ctx context.Context, id string) (*store.Entry, error) {
	const op = "memory.get"

	e, err := s.db.GetEntry(ctx, id)
	if err != nil {
		return nil, errs.Transient(op, err)
	}
	if e == nil || e.DeletedAt != nil {
		return nil, errs.NotFound(op, "no such entry")
	}
	s.audit.Record(ctx, audit.MemoryRead, actorFrom(ctx, e.PrincipalID), audit.Fields{
		"id":        e.ID,
		"principal": e.PrincipalID,
		"tag":       string(e.Tag),
	})
	return e, nil
}

// Peek returns a live entry without recording a read. Use it for ownership
// and tier checks that precede an audited operation.
func (s *Store) Peek(ctx context.Context, id string) (*store.Entry, error) {
	e, err := s.db.GetEntry(ctx, id)
	if err != nil {
		return nil, errs.Transient("memory.peek", err)
	}
	if e == nil || e.DeletedAt != nil {
		return nil, errs.NotFound("memory.peek", "no such entry")
	}
	return e, nil
}

// Delete tombstones an entry. The content stays on disk and can never be
// rewritten; the entry disappears from list and search.
func (s *Store) Delete(ctx context.Context, id, actor, reason string) error {
	const op = "memory.delete"

	e, err := s.db.GetEntry(ctx, id)
	if err != nil {
		return errs.Transient(op, err)
	}
	if e == nil || e.DeletedAt != nil {
		return errs.NotFound(op, "no such entry")
	}

	unlock := s.sections.Lock(e.PrincipalID + "\x00" + string(e.Tag))
	err = s.db.TombstoneEntry(ctx, id, reason, actor, s.now().UnixMilli())
	unlock()
	if errors.Is(err, store.ErrNotFound) {
		return errs.NotFound(op, "no such entry")
	}
	if err != nil {
		return errs.Transient(op, err)
	}

	s.audit.Record(ctx, audit.MemoryDelete, actor, audit.Fields{
		"id":        e.ID,
		"principal": e.PrincipalID,
		"tag":       string(e.Tag),
		"reason":    reason,
	})
	return nil
}

// Counts returns live entry counts per tag for principal.
func (s *Store) Counts(ctx context.Context, principalID string) (map[tags.Tag]int, error) {
	counts, err := s.db.CountEntries(ctx, principalID)
	if err != nil {
		return nil, errs.Transient("memory.counts", err)
	}
	return counts, nil
}
