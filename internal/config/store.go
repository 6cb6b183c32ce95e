// Package config implements the durable credential store: the source of
// truth that the credential cache fronts. It persists credentials, the
// minimal project directory, and login-attempt records.
package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/scopeline/authd/internal/model"
)

// Store is the credential store. Two backends are supported: embedded
// SQLite for development and tests, and Postgres for multi-instance
// production deployments where counters must be atomic in the shared
// database rather than in process memory.
type Store struct {
	db *sqlx.DB
}

// NewStore opens a store. driver is "sqlite" or "postgres". For sqlite,
// dsn is a data directory (empty for in-memory); for postgres, a
// connection string.
func NewStore(driver, dsn string) (*Store, error) {
	var db *sqlx.DB
	var err error

	switch driver {
	case "sqlite", "":
		var sqliteDSN string
		if dsn == "" {
			sqliteDSN = ":memory:?_journal_mode=WAL"
		} else {
			if err := os.MkdirAll(dsn, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			sqliteDSN = filepath.Join(dsn, "authd.db") + "?_journal_mode=WAL&_busy_timeout=5000"
		}
		db, err = sqlx.Connect("sqlite", sqliteDSN)
		if err != nil {
			return nil, fmt.Errorf("open credential database: %w", err)
		}
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	case "postgres":
		db, err = sqlx.Connect("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open credential database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate credential database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the backing database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

// credentialRow maps 1:1 to the credentials table. model.Credential carries
// string slices that are persisted as JSON text columns.
type credentialRow struct {
	ID              string     `db:"id"`
	Name            string     `db:"name"`
	SecretHash      string     `db:"secret_hash"`
	SecretPrefix    string     `db:"secret_prefix"`
	UserID          string     `db:"user_id"`
	OrgID           string     `db:"org_id"`
	ProjectID       string     `db:"project_id"`
	PermissionsJSON string     `db:"permissions_json"`
	RateLimit       int        `db:"rate_limit"`
	AllowedIPsJSON  string     `db:"allowed_ips_json"`
	ExpiresAt       *time.Time `db:"expires_at"`
	CreatedAt       time.Time  `db:"created_at"`
	LastUsed        *time.Time `db:"last_used"`
}

func credentialRowFromModel(c *model.Credential) (credentialRow, error) {
	perms, err := json.Marshal(emptyIfNil(c.Permissions))
	if err != nil {
		return credentialRow{}, fmt.Errorf("marshal permissions: %w", err)
	}
	ips, err := json.Marshal(emptyIfNil(c.AllowedIPs))
	if err != nil {
		return credentialRow{}, fmt.Errorf("marshal allowed ips: %w", err)
	}
	return credentialRow{
		ID:              c.ID,
		Name:            c.Name,
		SecretHash:      c.SecretHash,
		SecretPrefix:    c.Prefix,
		UserID:          c.UserID,
		OrgID:           c.OrgID,
		ProjectID:       c.ProjectID,
		PermissionsJSON: string(perms),
		RateLimit:       c.RateLimit,
		AllowedIPsJSON:  string(ips),
		ExpiresAt:       c.ExpiresAt,
		CreatedAt:       c.CreatedAt,
		LastUsed:        c.LastUsed,
	}, nil
}

func (r credentialRow) toModel() (*model.Credential, error) {
	var perms, ips []string
	if err := json.Unmarshal([]byte(r.PermissionsJSON), &perms); err != nil {
		return nil, fmt.Errorf("unmarshal permissions: %w", err)
	}
	if err := json.Unmarshal([]byte(r.AllowedIPsJSON), &ips); err != nil {
		return nil, fmt.Errorf("unmarshal allowed ips: %w", err)
	}
	return &model.Credential{
		ID:          r.ID,
		Name:        r.Name,
		SecretHash:  r.SecretHash,
		Prefix:      r.SecretPrefix,
		UserID:      r.UserID,
		OrgID:       r.OrgID,
		ProjectID:   r.ProjectID,
		Permissions: perms,
		RateLimit:   r.RateLimit,
		AllowedIPs:  ips,
		ExpiresAt:   r.ExpiresAt,
		CreatedAt:   r.CreatedAt,
		LastUsed:    r.LastUsed,
	}, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// CreateCredential inserts a new credential record. The secret_hash must
// already be set (the raw secret never reaches the store). ID and CreatedAt
// are populated if unset.
func (s *Store) CreateCredential(ctx context.Context, c *model.Credential) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	row, err := credentialRowFromModel(c)
	if err != nil {
		return err
	}

	const q = `INSERT INTO credentials
		(id, name, secret_hash, secret_prefix, user_id, org_id, project_id,
		 permissions_json, rate_limit, allowed_ips_json, expires_at, created_at, last_used)
		VALUES
		(:id, :name, :secret_hash, :secret_prefix, :user_id, :org_id, :project_id,
		 :permissions_json, :rate_limit, :allowed_ips_json, :expires_at, :created_at, :last_used)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// FindByHash looks up a credential by its secret's SHA-256 hash. This is
// the hot-path read the cache fronts.
func (s *Store) FindByHash(ctx context.Context, hash string) (*model.Credential, error) {
	var row credentialRow
	q := s.db.Rebind("SELECT * FROM credentials WHERE secret_hash = ?")
	if err := s.db.GetContext(ctx, &row, q, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find credential by hash: %w", err)
	}
	return row.toModel()
}

// GetCredential looks up a credential by id.
func (s *Store) GetCredential(ctx context.Context, id string) (*model.Credential, error) {
	var row credentialRow
	q := s.db.Rebind("SELECT * FROM credentials WHERE id = ?")
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return row.toModel()
}

// ListCredentials returns the credentials scoped to an organization, newest
// first.
func (s *Store) ListCredentials(ctx context.Context, orgID string) ([]model.Credential, error) {
	var rows []credentialRow
	q := s.db.Rebind("SELECT * FROM credentials WHERE org_id = ? ORDER BY created_at DESC")
	if err := s.db.SelectContext(ctx, &rows, q, orgID); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	out := make([]model.Credential, 0, len(rows))
	for _, r := range rows {
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// CredentialPatch is a partial update of a credential's mutable fields.
// Nil fields are left unchanged. The secret hash is immutable once issued.
type CredentialPatch struct {
	Name        *string
	RateLimit   *int
	Permissions *[]string
	AllowedIPs  *[]string
}

// UpdateCredential applies a partial update and returns the updated record.
// The read and write run in one transaction so concurrent patches cannot
// clobber each other's fields. Callers that cache by hash must invalidate
// the entry for the returned record's hash before acknowledging the update.
func (s *Store) UpdateCredential(ctx context.Context, id string, patch CredentialPatch) (*model.Credential, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var curRow credentialRow
	q := tx.Rebind("SELECT * FROM credentials WHERE id = ?")
	if err := tx.GetContext(ctx, &curRow, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credential for update: %w", err)
	}
	cur, err := curRow.toModel()
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		cur.Name = *patch.Name
	}
	if patch.RateLimit != nil {
		cur.RateLimit = *patch.RateLimit
	}
	if patch.Permissions != nil {
		cur.Permissions = *patch.Permissions
	}
	if patch.AllowedIPs != nil {
		cur.AllowedIPs = *patch.AllowedIPs
	}

	row, err := credentialRowFromModel(cur)
	if err != nil {
		return nil, err
	}
	q = tx.Rebind(`UPDATE credentials
		SET name = ?, rate_limit = ?, permissions_json = ?, allowed_ips_json = ?
		WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, q,
		row.Name, row.RateLimit, row.PermissionsJSON, row.AllowedIPsJSON, id); err != nil {
		return nil, fmt.Errorf("update credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit credential update: %w", err)
	}
	return cur, nil
}

// DeleteCredential removes a credential and returns the deleted record so
// the caller can invalidate its cache entry before acknowledging.
func (s *Store) DeleteCredential(ctx context.Context, id string) (*model.Credential, error) {
	cur, err := s.GetCredential(ctx, id)
	if err != nil {
		return nil, err
	}
	q := s.db.Rebind("DELETE FROM credentials WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("delete credential: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("delete credential rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return cur, nil
}

// TouchCredentialLastUsed sets the last_used timestamp. Best-effort on the
// request path; callers log failures and move on.
func (s *Store) TouchCredentialLastUsed(ctx context.Context, id string) error {
	q := s.db.Rebind("UPDATE credentials SET last_used = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch credential last used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch credential rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Projects
// ---------------------------------------------------------------------------

// CreateProject inserts a project directory record. ID and CreatedAt are
// populated if unset.
func (s *Store) CreateProject(ctx context.Context, p *model.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO projects (id, org_id, name, created_at)
		VALUES (:id, :org_id, :name, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, p); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// GetProject looks up a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	q := s.db.Rebind("SELECT * FROM projects WHERE id = ?")
	if err := s.db.GetContext(ctx, &p, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// ---------------------------------------------------------------------------
// Login attempts
// ---------------------------------------------------------------------------

// RecordLoginFailure atomically increments the failure counter for an
// identifier, creating the record on first failure. A record whose last
// failure is older than window is treated as expired and restarts at 1.
// The increment is a single upsert so concurrent failures from multiple
// instances never lose counts.
func (s *Store) RecordLoginFailure(ctx context.Context, identifier string, now time.Time, window time.Duration) (int, error) {
	cutoff := now.Add(-window)
	q := s.db.Rebind(`INSERT INTO login_attempts (identifier, failures, last_failure, locked_until)
		VALUES (?, 1, ?, NULL)
		ON CONFLICT (identifier) DO UPDATE SET
			failures = CASE WHEN login_attempts.last_failure < ? THEN 1 ELSE login_attempts.failures + 1 END,
			locked_until = CASE WHEN login_attempts.last_failure < ? THEN NULL ELSE login_attempts.locked_until END,
			last_failure = ?
		RETURNING failures`)
	var failures int
	if err := s.db.QueryRowxContext(ctx, q, identifier, now, cutoff, cutoff, now).Scan(&failures); err != nil {
		return 0, fmt.Errorf("record login failure: %w", err)
	}
	return failures, nil
}

// LockLoginIdentifier sets the lockout expiry for an identifier.
func (s *Store) LockLoginIdentifier(ctx context.Context, identifier string, until time.Time) error {
	q := s.db.Rebind("UPDATE login_attempts SET locked_until = ? WHERE identifier = ?")
	if _, err := s.db.ExecContext(ctx, q, until, identifier); err != nil {
		return fmt.Errorf("lock login identifier: %w", err)
	}
	return nil
}

// GetLoginAttempt returns the attempt record for an identifier, or
// ErrNotFound if none exists.
func (s *Store) GetLoginAttempt(ctx context.Context, identifier string) (*model.LoginAttempt, error) {
	var a model.LoginAttempt
	q := s.db.Rebind("SELECT * FROM login_attempts WHERE identifier = ?")
	if err := s.db.GetContext(ctx, &a, q, identifier); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get login attempt: %w", err)
	}
	return &a, nil
}

// ClearLoginAttempts removes the attempt record for an identifier.
// Clearing an absent record is a no-op.
func (s *Store) ClearLoginAttempts(ctx context.Context, identifier string) error {
	q := s.db.Rebind("DELETE FROM login_attempts WHERE identifier = ?")
	if _, err := s.db.ExecContext(ctx, q, identifier); err != nil {
		return fmt.Errorf("clear login attempts: %w", err)
	}
	return nil
}

// PurgeStaleLoginAttempts deletes unlocked records whose last failure is
// older than the cutoff. Hygiene only; expiry is already enforced logically
// by RecordLoginFailure and the lockout check.
func (s *Store) PurgeStaleLoginAttempts(ctx context.Context, cutoff time.Time) (int64, error) {
	q := s.db.Rebind(`DELETE FROM login_attempts
		WHERE last_failure < ? AND (locked_until IS NULL OR locked_until < ?)`)
	result, err := s.db.ExecContext(ctx, q, cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge login attempts: %w", err)
	}
	return result.RowsAffected()
}
