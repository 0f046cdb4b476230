package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"catbook/api/internal/perm"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// NewRef creates a ref with an initial head snapshot and, when owner is
// nonempty, an own-level permission grant, all in one transaction.
func (s *PostgresStore) NewRef(ctx context.Context, owner, docType string, content json.RawMessage) (uuid.UUID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin new ref: %w", err)
	}
	defer tx.Rollback()

	refID := uuid.New()
	var snapshotID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO snapshots (for_ref, content)
		VALUES ($1, $2)
		RETURNING id
	`, refID, content).Scan(&snapshotID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert snapshot: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO refs (id, doc_type, head)
		VALUES ($1, $2, $3)
	`, refID, docType, snapshotID); err != nil {
		return uuid.Nil, fmt.Errorf("insert ref: %w", err)
	}

	if owner != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO permissions (subject, object, level)
			VALUES ($1, $2, 'own')
		`, owner, refID); err != nil {
			return uuid.Nil, fmt.Errorf("insert owner permission: %w", err)
		}
	} else {
		// Anonymous documents are writable by anyone.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO permissions (subject, object, level)
			VALUES (NULL, $1, 'maintain')
		`, refID); err != nil {
			return uuid.Nil, fmt.Errorf("insert anonymous permission: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit new ref: %w", err)
	}
	return refID, nil
}

func (s *PostgresStore) GetRef(ctx context.Context, refID uuid.UUID) (Ref, error) {
	var ref Ref
	err := s.db.QueryRowContext(ctx, `
		SELECT id, doc_type, head, created_at FROM refs WHERE id=$1
	`, refID).Scan(&ref.ID, &ref.DocType, &ref.Head, &ref.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Ref{}, ErrNotFound
	}
	if err != nil {
		return Ref{}, fmt.Errorf("get ref: %w", err)
	}
	return ref, nil
}

// HeadSnapshot returns the content at the ref's head.
func (s *PostgresStore) HeadSnapshot(ctx context.Context, refID uuid.UUID) (json.RawMessage, error) {
	var content json.RawMessage
	err := s.db.QueryRowContext(ctx, `
		SELECT s.content
		FROM refs r
		JOIN snapshots s ON s.id = r.head
		WHERE r.id = $1
	`, refID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("head snapshot: %w", err)
	}
	return content, nil
}

// Autosave overwrites the head snapshot in place. Frozen snapshots are
// never written; autosaving after a SaveSnapshot writes into the fresh
// head that SaveSnapshot opened.
func (s *PostgresStore) Autosave(ctx context.Context, refID uuid.UUID, content json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE snapshots s
		SET content = $2, last_updated = NOW()
		FROM refs r
		WHERE r.id = $1 AND s.id = r.head AND NOT s.frozen
	`, refID, content)
	if err != nil {
		return fmt.Errorf("autosave: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("autosave rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveSnapshot freezes the current head and opens a new head snapshot
// holding the given content.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, refID uuid.UUID, content json.RawMessage) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save snapshot: %w", err)
	}
	defer tx.Rollback()

	var head int64
	err = tx.QueryRowContext(ctx, `SELECT head FROM refs WHERE id=$1 FOR UPDATE`, refID).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lock ref: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE snapshots SET content=$2, frozen=TRUE, last_updated=NOW() WHERE id=$1
	`, head, content); err != nil {
		return 0, fmt.Errorf("freeze head: %w", err)
	}

	var next int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO snapshots (for_ref, content)
		VALUES ($1, $2)
		RETURNING id
	`, refID, content).Scan(&next); err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE refs SET head=$2 WHERE id=$1`, refID, next); err != nil {
		return 0, fmt.Errorf("advance head: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit save snapshot: %w", err)
	}
	return next, nil
}

// ListSnapshots returns the ref's snapshots oldest first.
func (s *PostgresStore) ListSnapshots(ctx context.Context, refID uuid.UUID) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, for_ref, content, last_updated, frozen
		FROM snapshots
		WHERE for_ref=$1
		ORDER BY id ASC
	`, refID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	items := make([]Snapshot, 0)
	for rows.Next() {
		var item Snapshot
		if err := rows.Scan(&item.ID, &item.ForRef, &item.Content, &item.LastUpdated, &item.Frozen); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return items, nil
}

// Permissions loads the full permission set of a ref.
func (s *PostgresStore) Permissions(ctx context.Context, refID uuid.UUID) (RefPermissions, error) {
	if _, err := s.GetRef(ctx, refID); err != nil {
		return RefPermissions{}, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject, level FROM permissions WHERE object=$1
	`, refID)
	if err != nil {
		return RefPermissions{}, fmt.Errorf("load permissions: %w", err)
	}
	defer rows.Close()

	perms := RefPermissions{Users: make(map[string]perm.Level)}
	for rows.Next() {
		var subject sql.NullString
		var level string
		if err := rows.Scan(&subject, &level); err != nil {
			return RefPermissions{}, fmt.Errorf("scan permission: %w", err)
		}
		parsed := perm.Parse(level)
		if !subject.Valid {
			perms.Anyone = parsed
			continue
		}
		if parsed == perm.Own && perms.Owner == "" {
			perms.Owner = subject.String
			continue
		}
		perms.Users[subject.String] = parsed
	}
	if err := rows.Err(); err != nil {
		return RefPermissions{}, fmt.Errorf("iterate permissions: %w", err)
	}
	return perms, nil
}

// MaxLevel returns the highest level the user holds on the ref.
func (s *PostgresStore) MaxLevel(ctx context.Context, refID uuid.UUID, user string) (perm.Level, error) {
	perms, err := s.Permissions(ctx, refID)
	if err != nil {
		return perm.Deny, err
	}
	if user != "" && user == perms.Owner {
		return perm.Own, nil
	}
	level := perms.Anyone
	if user != "" {
		if granted, ok := perms.Users[user]; ok && granted > level {
			level = granted
		}
	}
	return level, nil
}

// SetAnyoneLevel replaces the level granted to everyone.
func (s *PostgresStore) SetAnyoneLevel(ctx context.Context, refID uuid.UUID, level perm.Level) error {
	if level == perm.Own {
		return fmt.Errorf("anyone cannot hold own")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (subject, object, level)
		VALUES (NULL, $1, $2)
		ON CONFLICT (subject, object) DO UPDATE SET level=EXCLUDED.level
	`, refID, level.String())
	if err != nil {
		return fmt.Errorf("set anyone level: %w", err)
	}
	return nil
}

// SetUserLevel grants (or with Deny, revokes) a per-user level.
func (s *PostgresStore) SetUserLevel(ctx context.Context, refID uuid.UUID, user string, level perm.Level) error {
	if level == perm.Deny {
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM permissions WHERE object=$1 AND subject=$2 AND level <> 'own'
		`, refID, user); err != nil {
			return fmt.Errorf("revoke user level: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (subject, object, level)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject, object) DO UPDATE SET level=EXCLUDED.level
	`, user, refID, level.String())
	if err != nil {
		return fmt.Errorf("set user level: %w", err)
	}
	return nil
}

// EnsureUser signs a user up on first sight and in afterwards, keyed by
// the identity provider's subject id.
func (s *PostgresStore) EnsureUser(ctx context.Context, userID string) (User, error) {
	var user User
	var username, displayName sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &username, &displayName, &user.CreatedAt)
	if err == nil {
		user.Username = nullableString(username)
		user.DisplayName = displayName.String
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (id) VALUES ($1)
		ON CONFLICT (id) DO UPDATE SET id=EXCLUDED.id
		RETURNING id, created_at
	`, userID).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	var username, displayName sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &username, &displayName, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	user.Username = nullableString(username)
	user.DisplayName = displayName.String
	return user, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	var name, displayName sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, created_at FROM users WHERE username=$1
	`, username).Scan(&user.ID, &name, &displayName, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by username: %w", err)
	}
	user.Username = nullableString(name)
	user.DisplayName = displayName.String
	return user, nil
}

// UsernameAvailable reports whether no user currently holds the name.
// It does not reserve the name; SetProfile may still lose a race.
func (s *PostgresStore) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	var taken bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE username=$1)
	`, username).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return !taken, nil
}

// SetProfile replaces the user's username and display name. A nil
// username clears it.
func (s *PostgresStore) SetProfile(ctx context.Context, userID string, username *string, displayName string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET username=$2, display_name=$3 WHERE id=$1
	`, userID, username, nullIfEmpty(displayName))
	if err != nil {
		return fmt.Errorf("set profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set profile rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchRefStubs is the database-backed ref search used when the search
// index is unavailable: case-insensitive substring match on the head
// snapshot's name, readable refs only.
func (s *PostgresStore) SearchRefStubs(ctx context.Context, user, query string, limit int) ([]RefStub, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.doc_type, COALESCE(s.content->>'name', ''), COALESCE(p.subject, ''), s.last_updated
		FROM refs r
		JOIN snapshots s ON s.id = r.head
		LEFT JOIN permissions p ON p.object = r.id AND p.level = 'own'
		WHERE ($2 = '' OR s.content->>'name' ILIKE '%' || $2 || '%')
			AND (
				EXISTS (
					SELECT 1 FROM permissions q
					WHERE q.object = r.id AND q.subject IS NULL AND q.level <> 'deny'
				)
				OR ($1 <> '' AND EXISTS (
					SELECT 1 FROM permissions q
					WHERE q.object = r.id AND q.subject = $1
				))
			)
		ORDER BY s.last_updated DESC
		LIMIT $3
	`, user, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search refs: %w", err)
	}
	defer rows.Close()

	items := make([]RefStub, 0)
	for rows.Next() {
		var item RefStub
		if err := rows.Scan(&item.ID, &item.DocType, &item.Name, &item.Owner, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan ref stub: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ref stubs: %w", err)
	}
	return items, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
