package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// genesisHash is the prev_hash of the first audit record.
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditRecord is one immutable audit event.
type AuditRecord struct {
	ID        int64
	TS        int64
	EventType string
	Actor     string
	Fields    map[string]any
	PrevHash  string
	Hash      string
}

// AppendAudit writes rec to the end of the hash chain and fills in its id
// and hashes.
func (db *DB) AppendAudit(ctx context.Context, rec *AuditRecord) error {
	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal audit fields: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit append: %w", err)
	}
	defer tx.Rollback()

	prev := genesisHash
	err = tx.QueryRowContext(ctx, `SELECT record_hash FROM audit_records ORDER BY id DESC LIMIT 1`).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read audit chain head: %w", err)
	}

	hash := chainHash(prev, rec.TS, rec.EventType, rec.Actor, fieldsJSON)
	result, err := tx.ExecContext(ctx, `
		INSERT INTO audit_records (ts, event_type, actor, fields, prev_hash, record_hash)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.TS, rec.EventType, rec.Actor, string(fieldsJSON), prev, hash)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit record: %w", err)
	}

	rec.ID, _ = result.LastInsertId()
	rec.PrevHash = prev
	rec.Hash = hash
	return nil
}

// QueryAudit returns the newest records for actor, newest first. An empty
// actor matches every record.
func (db *DB) QueryAudit(ctx context.Context, actor string, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	var rows *sql.Rows
	var err error
	if actor != "" {
		rows, err = db.QueryContext(ctx, `
			SELECT id, ts, event_type, actor, fields, prev_hash, record_hash
			FROM audit_records WHERE actor = ? ORDER BY id DESC LIMIT ?
		`, actor, limit)
	} else {
		rows, err = db.QueryContext(ctx, `
			SELECT id, ts, event_type, actor, fields, prev_hash, record_hash
			FROM audit_records ORDER BY id DESC LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var r AuditRecord
		var fields string
		if err := rows.Scan(&r.ID, &r.TS, &r.EventType, &r.Actor, &fields, &r.PrevHash, &r.Hash); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &r.Fields); err != nil {
			return nil, fmt.Errorf("audit record %d fields: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AuditTimes returns the timestamps of actor's records of the given event
// types with ts >= since, oldest first.
func (db *DB) AuditTimes(ctx context.Context, actor string, since int64, eventTypes ...string) ([]int64, error) {
	if len(eventTypes) == 0 {
		return nil, nil
	}
	args := []any{actor, since}
	marks := make([]string, len(eventTypes))
	for i, t := range eventTypes {
		marks[i] = "?"
		args = append(args, t)
	}
	rows, err := db.QueryContext(ctx, `
		SELECT ts FROM audit_records
		WHERE actor = ? AND ts >= ? AND event_type IN (`+strings.Join(marks, ", ")+`)
		ORDER BY id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit times: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan audit time: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// VerifyAuditChain walks the whole trail in order and returns the id of the
// first record whose hash does not match, or 0 if the chain is intact.
func (db *DB) VerifyAuditChain(ctx context.Context) (int64, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, ts, event_type, actor, fields, prev_hash, record_hash FROM audit_records ORDER BY id
	`)
	if err != nil {
		return 0, fmt.Errorf("verify audit chain: %w", err)
	}
	defer rows.Close()

	prev := genesisHash
	for rows.Next() {
		var id, ts int64
		var eventType, actor, fields, prevHash, hash string
		if err := rows.Scan(&id, &ts, &eventType, &actor, &fields, &prevHash, &hash); err != nil {
			return 0, fmt.Errorf("scan audit record: %w", err)
		}
		if prevHash != prev || chainHash(prev, ts, eventType, actor, []byte(fields)) != hash {
			return id, nil
		}
		prev = hash
	}
	return 0, rows.Err()
}

func chainHash(prev string, ts int64, eventType, actor string, fields []byte) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte{0})
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write([]byte(actor))
	h.Write([]byte{0})
	h.Write(fields)
	return hex.EncodeToString(h.Sum(nil))
}
