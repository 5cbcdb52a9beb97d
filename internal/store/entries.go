package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lazypower/confidant/internal/tags"
)

// Entry is one row of a principal's memory log. Rows are never rewritten;
// deletion sets the tombstone columns and nothing else.
type Entry struct {
	ID                string
	Ordinal           int64 // global insertion order (rowid)
	PrincipalID       string
	Tag               tags.Tag
	Seq               int64 // position within the (principal, tag) section
	Content           string
	Source            string // text, voice, other
	Confidence        float64
	RelatedPrincipals []string
	Context           string
	CreatedAt         int64
	DeletedAt         *int64
	DeleteReason      string
	DeletedBy         string
}

const entryColumns = `rowid, id, principal_id, tag, seq, content, sealed, source, confidence, related, context,
	created_at, deleted_at, delete_reason, deleted_by`

// InsertEntry appends e to its (principal, tag) section. It assigns e.Seq and
// e.Ordinal. Callers must serialise inserts per section; the UNIQUE constraint
// on (principal_id, tag, seq) rejects a lost race rather than interleaving.
func (db *DB) InsertEntry(ctx context.Context, e *Entry) error {
	related, err := json.Marshal(nonNil(e.RelatedPrincipals))
	if err != nil {
		return fmt.Errorf("marshal related principals: %w", err)
	}

	content := []byte(e.Content)
	sealed := 0
	if e.Tag.SealAtRest() && db.sealer != nil {
		content, err = db.sealer.seal(e.ID, content)
		if err != nil {
			return err
		}
		sealed = 1
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert entry: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM memory_entries WHERE principal_id = ? AND tag = ?
	`, e.PrincipalID, string(e.Tag)).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next section seq: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO memory_entries (id, principal_id, tag, seq, content, sealed, source, confidence, related, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.PrincipalID, string(e.Tag), seq, content, sealed,
		e.Source, e.Confidence, string(related), e.Context, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit entry: %w", err)
	}

	e.Seq = seq
	e.Ordinal, _ = result.LastInsertId()
	return nil
}

// ListEntries returns live entries of principal whose tag is in ts, newest
// first. limit <= 0 means no limit. Sections outside ts are never read.
func (db *DB) ListEntries(ctx context.Context, principalID string, ts []tags.Tag, limit int) ([]Entry, error) {
	if len(ts) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}

	args := make([]any, 0, len(ts)+2)
	args = append(args, principalID)
	for _, t := range ts {
		args = append(args, string(t))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s FROM memory_entries
		WHERE principal_id = ? AND tag IN (%s) AND deleted_at IS NULL
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, entryColumns, placeholders(len(ts)))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()
	return db.scanEntries(rows)
}

// GetEntry returns an entry by id, tombstoned or not, or nil if not found.
func (db *DB) GetEntry(ctx context.Context, id string) (*Entry, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+entryColumns+` FROM memory_entries WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	defer rows.Close()

	entries, err := db.scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// TombstoneEntry soft-deletes a live entry. It returns ErrNotFound when the
// entry does not exist or is already tombstoned.
func (db *DB) TombstoneEntry(ctx context.Context, id, reason, deletedBy string, at int64) error {
	result, err := db.ExecContext(ctx, `
		UPDATE memory_entries SET deleted_at = ?, delete_reason = ?, deleted_by = ?
		WHERE id = ? AND deleted_at IS NULL
	`, at, reason, deletedBy, id)
	if err != nil {
		return fmt.Errorf("tombstone entry: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountEntries returns the number of live entries per tag for a principal.
func (db *DB) CountEntries(ctx context.Context, principalID string) (map[tags.Tag]int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT tag, COUNT(*) FROM memory_entries
		WHERE principal_id = ? AND deleted_at IS NULL
		GROUP BY tag
	`, principalID)
	if err != nil {
		return nil, fmt.Errorf("count entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[tags.Tag]int)
	for rows.Next() {
		var tag string
		var n int
		if err := rows.Scan(&tag, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[tags.Tag(tag)] = n
	}
	return counts, rows.Err()
}

func (db *DB) scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var tag, related string
		var content []byte
		var sealed int
		var deletedAt sql.NullInt64
		var reason, deletedBy sql.NullString
		if err := rows.Scan(&e.Ordinal, &e.ID, &e.PrincipalID, &tag, &e.Seq, &content, &sealed,
			&e.Source, &e.Confidence, &related, &e.Context,
			&e.CreatedAt, &deletedAt, &reason, &deletedBy); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Tag = tags.Tag(tag)
		if sealed != 0 {
			plain, err := db.sealer.open(e.ID, content)
			if err != nil {
				return nil, fmt.Errorf("entry %s: %w", e.ID, err)
			}
			content = plain
		}
		e.Content = string(content)
		if err := json.Unmarshal([]byte(related), &e.RelatedPrincipals); err != nil {
			return nil, fmt.Errorf("entry %s related principals: %w", e.ID, err)
		}
		if deletedAt.Valid {
			e.DeletedAt = &deletedAt.Int64
		}
		e.DeleteReason = reason.String
		e.DeletedBy = deletedBy.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
