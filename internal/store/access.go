package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Passphrase is an enrolled passphrase hash.
type Passphrase struct {
	PrincipalID string
	Hash        []byte
	Salt        []byte
	Params      string // hash parameters, e.g. "argon2id$t=1$m=65536$p=4$l=32"
	EnrolledAt  int64
}

// UnlockSession is a principal's single unlock window.
type UnlockSession struct {
	PrincipalID string
	IssuedAt    int64
	ExpiresAt   int64
}

// SavePassphrase stores a passphrase hash, replacing any earlier enrolment.
func (db *DB) SavePassphrase(ctx context.Context, p *Passphrase) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO passphrases (principal_id, hash, salt, params, enrolled_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(principal_id) DO UPDATE SET hash = excluded.hash, salt = excluded.salt,
			params = excluded.params, enrolled_at = excluded.enrolled_at
	`, p.PrincipalID, p.Hash, p.Salt, p.Params, p.EnrolledAt)
	if err != nil {
		return fmt.Errorf("save passphrase: %w", err)
	}
	return nil
}

// GetPassphrase returns the enrolled passphrase for a principal, or nil.
func (db *DB) GetPassphrase(ctx context.Context, principalID string) (*Passphrase, error) {
	var p Passphrase
	err := db.QueryRowContext(ctx, `
		SELECT principal_id, hash, salt, params, enrolled_at FROM passphrases WHERE principal_id = ?
	`, principalID).Scan(&p.PrincipalID, &p.Hash, &p.Salt, &p.Params, &p.EnrolledAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get passphrase: %w", err)
	}
	return &p, nil
}

// PutUnlockSession creates or replaces the principal's unlock session.
func (db *DB) PutUnlockSession(ctx context.Context, s *UnlockSession) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO unlock_sessions (principal_id, issued_at, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(principal_id) DO UPDATE SET issued_at = excluded.issued_at, expires_at = excluded.expires_at
	`, s.PrincipalID, s.IssuedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("put unlock session: %w", err)
	}
	return nil
}

// GetUnlockSession returns the principal's unlock session, expired or not, or nil.
func (db *DB) GetUnlockSession(ctx context.Context, principalID string) (*UnlockSession, error) {
	var s UnlockSession
	err := db.QueryRowContext(ctx, `
		SELECT principal_id, issued_at, expires_at FROM unlock_sessions WHERE principal_id = ?
	`, principalID).Scan(&s.PrincipalID, &s.IssuedAt, &s.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get unlock session: %w", err)
	}
	return &s, nil
}

// DeleteUnlockSession removes the principal's session. It reports whether a
// session existed.
func (db *DB) DeleteUnlockSession(ctx context.Context, principalID string) (bool, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM unlock_sessions WHERE principal_id = ?`, principalID)
	if err != nil {
		return false, fmt.Errorf("delete unlock session: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// DeleteExpiredUnlockSessions removes sessions with expires_at <= now, for one
// principal when principalID is non-empty, otherwise for everyone. A session
// whose expiry is still in the future is never touched.
func (db *DB) DeleteExpiredUnlockSessions(ctx context.Context, principalID string, now int64) (int, error) {
	var result sql.Result
	var err error
	if principalID != "" {
		result, err = db.ExecContext(ctx, `
			DELETE FROM unlock_sessions WHERE principal_id = ? AND expires_at <= ?
		`, principalID, now)
	} else {
		result, err = db.ExecContext(ctx, `DELETE FROM unlock_sessions WHERE expires_at <= ?`, now)
	}
	if err != nil {
		return 0, fmt.Errorf("delete expired unlock sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
