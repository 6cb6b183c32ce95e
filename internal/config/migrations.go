package config

import "fmt"

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			secret_hash TEXT UNIQUE NOT NULL,
			secret_prefix TEXT NOT NULL,
			user_id TEXT NOT NULL,
			org_id TEXT NOT NULL DEFAULT '',
			project_id TEXT NOT NULL DEFAULT '',
			permissions_json TEXT NOT NULL DEFAULT '[]',
			rate_limit INTEGER NOT NULL DEFAULT 60,
			allowed_ips_json TEXT NOT NULL DEFAULT '[]',
			expires_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			last_used TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS login_attempts (
			identifier TEXT PRIMARY KEY,
			failures INTEGER NOT NULL DEFAULT 0,
			last_failure TIMESTAMP NOT NULL,
			locked_until TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_credentials_hash ON credentials(secret_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_org ON credentials(org_id)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_org ON projects(org_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
