package store

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/lazypower/confidant/internal/tags"
)

func newEntry(id, principal string, tag tags.Tag, content string, at int64) *Entry {
	return &Entry{
		ID:          id,
		PrincipalID: principal,
		Tag:         tag,
		Content:     content,
		Source:      "text",
		Confidence:  0.75,
		CreatedAt:   at,
	}
}

func TestInsertEntryAssignsSectionSeq(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := newEntry("a", "+1", tags.General, "first", 1000)
	b := newEntry("b", "+1", tags.General, "second", 1001)
	c := newEntry("c", "+1", tags.Secret, "hidden", 1002)
	d := newEntry("d", "+2", tags.General, "other principal", 1003)
	for _, e := range []*Entry{a, b, c, d} {
		if err := db.InsertEntry(ctx, e); err != nil {
			t.Fatalf("InsertEntry %s: %v", e.ID, err)
		}
	}

	if a.Seq != 1 || b.Seq != 2 {
		t.Errorf("general seqs = %d, %d, want 1, 2", a.Seq, b.Seq)
	}
	if c.Seq != 1 {
		t.Errorf("secret seq = %d, want 1 (independent section)", c.Seq)
	}
	if d.Seq != 1 {
		t.Errorf("other principal seq = %d, want 1", d.Seq)
	}
	if !(a.Ordinal < b.Ordinal && b.Ordinal < c.Ordinal) {
		t.Errorf("ordinals not increasing: %d %d %d", a.Ordinal, b.Ordinal, c.Ordinal)
	}
}

func TestListEntriesRestrictsSections(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i, tag := range tags.All() {
		e := newEntry(fmt.Sprintf("e%d", i), "+1", tag, "content "+string(tag), int64(1000+i))
		if err := db.InsertEntry(ctx, e); err != nil {
			t.Fatalf("InsertEntry: %v", err)
		}
	}

	got, err := db.ListEntries(ctx, "+1", []tags.Tag{tags.General, tags.Confidential}, 0)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	// newest first
	if got[0].Tag != tags.Confidential || got[1].Tag != tags.General {
		t.Errorf("order = %s, %s; want confidential, general", got[0].Tag, got[1].Tag)
	}

	none, err := db.ListEntries(ctx, "+1", nil, 10)
	if err != nil {
		t.Fatalf("ListEntries empty set: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("empty tag set returned %d entries", len(none))
	}
}

func TestListEntriesLimitAndOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := newEntry(fmt.Sprintf("e%d", i), "+1", tags.General, fmt.Sprintf("note %d", i), 1000)
		if err := db.InsertEntry(ctx, e); err != nil {
			t.Fatalf("InsertEntry: %v", err)
		}
	}

	got, err := db.ListEntries(ctx, "+1", []tags.Tag{tags.General}, 3)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d, want 3", len(got))
	}
	// same timestamp: insertion order breaks the tie, newest first
	if got[0].ID != "e4" || got[2].ID != "e2" {
		t.Errorf("ids = %s..%s, want e4..e2", got[0].ID, got[2].ID)
	}
}

func TestEntryRoundTripIsExact(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	e := newEntry("x", "+1", tags.Confidential, "my SSN is 123-45-6789 é\n", 1234)
	e.RelatedPrincipals = []string{"+15550102000"}
	e.Context = "imported"
	if err := db.InsertEntry(ctx, e); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}

	got, err := db.GetEntry(ctx, "x")
	if err != nil || got == nil {
		t.Fatalf("GetEntry: %v, %v", got, err)
	}
	if got.Content != e.Content || got.Tag != e.Tag || got.Context != e.Context ||
		got.Confidence != e.Confidence || got.CreatedAt != e.CreatedAt {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, e)
	}
	if len(got.RelatedPrincipals) != 1 || got.RelatedPrincipals[0] != "+15550102000" {
		t.Errorf("RelatedPrincipals = %v", got.RelatedPrincipals)
	}
}

func TestGetEntryNotFound(t *testing.T) {
	db := testDB(t)

	got, err := db.GetEntry(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestTombstoneEntry(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.InsertEntry(ctx, newEntry("x", "+1", tags.General, "gone soon", 1000)); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}
	if err := db.TombstoneEntry(ctx, "x", "typo", "+1", 2000); err != nil {
		t.Fatalf("TombstoneEntry: %v", err)
	}
	if err := db.TombstoneEntry(ctx, "x", "again", "+1", 3000); err != ErrNotFound {
		t.Errorf("second tombstone err = %v, want ErrNotFound", err)
	}
	if err := db.TombstoneEntry(ctx, "missing", "", "+1", 3000); err != ErrNotFound {
		t.Errorf("missing tombstone err = %v, want ErrNotFound", err)
	}

	list, _ := db.ListEntries(ctx, "+1", tags.All(), 0)
	if len(list) != 0 {
		t.Errorf("tombstoned entry still listed")
	}

	got, _ := db.GetEntry(ctx, "x")
	if got == nil || got.DeletedAt == nil || *got.DeletedAt != 2000 || got.DeleteReason != "typo" {
		t.Errorf("tombstone fields = %+v", got)
	}
	if got.Content != "gone soon" {
		t.Errorf("tombstone altered content: %q", got.Content)
	}
}

func TestCountEntries(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	db.InsertEntry(ctx, newEntry("a", "+1", tags.General, "a", 1))
	db.InsertEntry(ctx, newEntry("b", "+1", tags.General, "b", 2))
	db.InsertEntry(ctx, newEntry("c", "+1", tags.Secret, "c", 3))
	db.InsertEntry(ctx, newEntry("d", "+2", tags.Secret, "d", 4))

	counts, err := db.CountEntries(ctx, "+1")
	if err != nil {
		t.Fatalf("CountEntries: %v", err)
	}
	if counts[tags.General] != 2 || counts[tags.Secret] != 1 || counts[tags.Confidential] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

func TestSealedUltraSecret(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	key := bytes.Repeat([]byte{7}, 32)
	if err := db.SetSealKey(key); err != nil {
		t.Fatalf("SetSealKey: %v", err)
	}

	if err := db.InsertEntry(ctx, newEntry("u", "+1", tags.UltraSecret, "the vault is under the stairs", 1)); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}
	if err := db.InsertEntry(ctx, newEntry("s", "+1", tags.Secret, "plain secret", 2)); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}

	var raw []byte
	var sealed int
	if err := db.QueryRow(`SELECT content, sealed FROM memory_entries WHERE id = 'u'`).Scan(&raw, &sealed); err != nil {
		t.Fatalf("raw select: %v", err)
	}
	if sealed != 1 || bytes.Contains(raw, []byte("vault")) {
		t.Errorf("ultra secret content stored in the clear (sealed=%d)", sealed)
	}
	if err := db.QueryRow(`SELECT sealed FROM memory_entries WHERE id = 's'`).Scan(&sealed); err != nil || sealed != 0 {
		t.Errorf("secret tier should not be sealed: sealed=%d err=%v", sealed, err)
	}

	got, err := db.GetEntry(ctx, "u")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.Content != "the vault is under the stairs" {
		t.Errorf("unsealed content = %q", got.Content)
	}

	// Without the key the row cannot be read.
	db.SetSealKey(nil)
	if _, err := db.GetEntry(ctx, "u"); err == nil {
		t.Error("expected error reading sealed entry without key")
	}
	// Sections that were not sealed stay readable.
	if _, err := db.ListEntries(ctx, "+1", []tags.Tag{tags.Secret}, 0); err != nil {
		t.Errorf("ListEntries secret without key: %v", err)
	}
}

func TestSetSealKeyRejectsBadLength(t *testing.T) {
	db := testDB(t)
	if err := db.SetSealKey([]byte("short")); err == nil {
		t.Error("expected error for short key")
	}
}
