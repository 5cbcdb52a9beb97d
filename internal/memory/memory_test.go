package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/confidant/internal/audit"
	"github.com/lazypower/confidant/internal/errs"
	"github.com/lazypower/confidant/internal/store"
	"github.com/lazypower/confidant/internal/tags"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testStore(t *testing.T) (*Store, *audit.Recorder, *clock) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rec := &audit.Recorder{}
	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return New(db, rec, WithClock(c.now)), rec, c
}

func appendText(t *testing.T, s *Store, principal string, tag tags.Tag, content string) *store.Entry {
	t.Helper()
	e, err := s.Append(context.Background(), NewEntry{PrincipalID: principal, Tag: tag, Content: content, Confidence: 0.5})
	require.NoError(t, err)
	return e
}

func TestAppendAssignsIdentity(t *testing.T) {
	s, rec, _ := testStore(t)

	a := appendText(t, s, "+1", tags.General, "buy milk")
	b := appendText(t, s, "+1", tags.General, "buy milk")

	assert.NotEqual(t, a.ID, b.ID, "append never merges")
	assert.Equal(t, int64(1), a.Seq)
	assert.Equal(t, int64(2), b.Seq)
	assert.Equal(t, SourceText, a.Source)
	assert.NotNil(t, a.RelatedPrincipals)
	assert.Equal(t, 2, rec.Count(audit.MemoryAppend, "+1"))

	ev := rec.Events("+1")[0]
	assert.NotContains(t, ev.Fields, "content", "audit must not copy memory content")
}

func TestAppendValidation(t *testing.T) {
	s, rec, _ := testStore(t)
	ctx := context.Background()

	cases := []NewEntry{
		{PrincipalID: "", Tag: tags.General, Content: "x"},
		{PrincipalID: "+1", Tag: "top_secret", Content: "x"},
		{PrincipalID: "+1", Tag: tags.General, Content: "   "},
		{PrincipalID: "+1", Tag: tags.General, Content: "x", Source: "fax"},
		{PrincipalID: "+1", Tag: tags.General, Content: "x", Confidence: 1.5},
	}
	for i, ne := range cases {
		_, err := s.Append(ctx, ne)
		assert.True(t, errs.Is(err, errs.KindValidation), "case %d: %v", i, err)
	}
	assert.Empty(t, rec.Events(""))
}

func TestAppendedEntryIsReadBackIdentical(t *testing.T) {
	s, _, _ := testStore(t)
	ctx := context.Background()

	appended, err := s.Append(ctx, NewEntry{
		PrincipalID:       "+1",
		Tag:               tags.Confidential,
		Content:           "my SSN is 123-45-6789",
		Source:            SourceVoice,
		Confidence:        0.8,
		RelatedPrincipals: []string{"+15550100200"},
		Context:           "call",
	})
	require.NoError(t, err)

	listed, err := s.List(ctx, "+1", tags.NewSet(tags.Confidential), 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, *appended, listed[0])

	hits, err := s.Search(ctx, "+1", "ssn", tags.NewSet(tags.Confidential), 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, *appended, hits[0].Entry)
}

func TestListRestrictsToAllowedTags(t *testing.T) {
	s, rec, c := testStore(t)
	ctx := context.Background()

	appendText(t, s, "+1", tags.General, "general note")
	c.advance(time.Second)
	appendText(t, s, "+1", tags.Secret, "secret note")
	c.advance(time.Second)
	appendText(t, s, "+1", tags.Chronological, "dentist tomorrow")

	got, err := s.List(ctx, "+1", tags.Visible(false), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, tags.Chronological, got[0].Tag)
	assert.Equal(t, tags.General, got[1].Tag)

	got, err = s.List(ctx, "+1", tags.Visible(true), 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	assert.Equal(t, 2, rec.Count(audit.MemoryList, "+1"))
}

func TestSearchRankingAndThreshold(t *testing.T) {
	s, _, c := testStore(t)
	ctx := context.Background()
	all := tags.NewSet(tags.All()...)

	appendText(t, s, "+1", tags.General, "the launch plan is ready")
	c.advance(time.Second)
	appendText(t, s, "+1", tags.General, "plan the party")
	c.advance(time.Second)
	appendText(t, s, "+1", tags.General, "nothing relevant here")

	hits, err := s.Search(ctx, "+1", "launch plan", all, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// full overlap + exact phrase beats half overlap
	assert.Equal(t, "the launch plan is ready", hits[0].Entry.Content)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.InDelta(t, 0.4, hits[1].Score, 1e-9)
}

func TestSearchFloorIsExclusive(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := New(db, &audit.Recorder{}, WithMinScore(0.4))

	appendText(t, s, "+1", tags.General, "the launch plan is ready")
	appendText(t, s, "+1", tags.General, "plan the party")

	// "plan the party" scores exactly 0.4 for this query
	hits, err := s.Search(context.Background(), "+1", "launch plan", tags.NewSet(tags.General), 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "the launch plan is ready", hits[0].Entry.Content)
}

func TestSearchTieBreaksByRecency(t *testing.T) {
	s, _, c := testStore(t)
	ctx := context.Background()

	appendText(t, s, "+1", tags.General, "old plan")
	c.advance(time.Minute)
	appendText(t, s, "+1", tags.General, "new plan")

	hits, err := s.Search(ctx, "+1", "plan", tags.NewSet(tags.General), 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, "new plan", hits[0].Entry.Content)
}

func TestSearchNeverReadsOutsideAllowed(t *testing.T) {
	s, _, _ := testStore(t)
	ctx := context.Background()

	appendText(t, s, "+1", tags.Secret, "the plan is secret")
	appendText(t, s, "+1", tags.UltraSecret, "the plan is ultra secret")

	hits, err := s.Search(ctx, "+1", "plan", tags.Allowed(tags.ScopeSelf, false), 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchEmptyQuery(t *testing.T) {
	s, _, _ := testStore(t)
	_, err := s.Search(context.Background(), "+1", " ?! ", tags.NewSet(tags.General), 0)
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestSearchAttributesActor(t *testing.T) {
	s, rec, _ := testStore(t)
	appendText(t, s, "+2", tags.General, "team lunch friday")

	ctx := WithActor(context.Background(), "+1")
	_, err := s.Search(ctx, "+2", "lunch", tags.NewSet(tags.General), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, rec.Count(audit.MemorySearch, "+1"))
	assert.Zero(t, rec.Count(audit.MemorySearch, "+2"))
}

func TestGetAndDelete(t *testing.T) {
	s, rec, _ := testStore(t)
	ctx := context.Background()

	e := appendText(t, s, "+1", tags.General, "temporary")

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "temporary", got.Content)
	assert.Equal(t, 1, rec.Count(audit.MemoryRead, "+1"))

	require.NoError(t, s.Delete(ctx, e.ID, "+1", "no longer needed"))
	assert.Equal(t, 1, rec.Count(audit.MemoryDelete, "+1"))

	_, err = s.Get(ctx, e.ID)
	assert.True(t, errs.Is(err, errs.KindNotFound))

	err = s.Delete(ctx, e.ID, "+1", "again")
	assert.True(t, errs.Is(err, errs.KindNotFound))

	err = s.Delete(ctx, "missing", "+1", "")
	assert.True(t, errs.Is(err, errs.KindNotFound))

	listed, err := s.List(ctx, "+1", tags.NewSet(tags.General), 0)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestConcurrentAppendsSameSection(t *testing.T) {
	s, _, _ := testStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errCh := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append(ctx, NewEntry{PrincipalID: "+1", Tag: tags.General, Content: fmt.Sprintf("note %d", i)})
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	entries, err := s.List(ctx, "+1", tags.NewSet(tags.General), 0)
	require.NoError(t, err)
	require.Len(t, entries, 20)

	seen := make(map[int64]bool)
	for _, e := range entries {
		assert.False(t, seen[e.Seq], "duplicate seq %d", e.Seq)
		seen[e.Seq] = true
	}
}

func TestAppendStorageFailureIsTransient(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	s := New(db, &audit.Recorder{})
	db.Close()

	_, err = s.Append(context.Background(), NewEntry{PrincipalID: "+1", Tag: tags.General, Content: "x"})
	assert.True(t, errs.Is(err, errs.KindTransient))
}

func TestCounts(t *testing.T) {
	s, _, _ := testStore(t)
	appendText(t, s, "+1", tags.General, "a")
	appendText(t, s, "+1", tags.Secret, "b")

	counts, err := s.Counts(context.Background(), "+1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[tags.General])
	assert.Equal(t, 1, counts[tags.Secret])
}
