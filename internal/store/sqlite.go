package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a credential, profile or setting is absent.
var ErrNotFound = errors.New("store: not found")

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS credentials (
            kind TEXT PRIMARY KEY,
            access_token TEXT NOT NULL,
            obtained_at INTEGER NOT NULL,
            scopes TEXT NOT NULL,
            source TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS profile (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            email TEXT NOT NULL,
            display_name TEXT NOT NULL,
            avatar_url TEXT NOT NULL,
            updated_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS outbound_jobs (
            id TEXT PRIMARY KEY,
            subject TEXT NOT NULL,
            body TEXT NOT NULL,
            recipient_email TEXT NOT NULL,
            company_name TEXT NOT NULL,
            location TEXT NOT NULL,
            tech_stack TEXT NOT NULL,
            created_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS settings (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_outbound_jobs_created ON outbound_jobs(created_at, id);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) SaveCredential(ctx context.Context, cred Credential) error {
	query := `INSERT INTO credentials (kind, access_token, obtained_at, scopes, source)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(kind) DO UPDATE SET
            access_token = excluded.access_token,
            obtained_at = excluded.obtained_at,
            scopes = excluded.scopes,
            source = excluded.source;`
	_, err := s.db.ExecContext(ctx, query,
		string(cred.Kind),
		cred.AccessToken,
		cred.ObtainedAt.Unix(),
		strings.Join(cred.Scopes, " "),
		string(cred.Source),
	)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *Store) GetCredential(ctx context.Context, kind CredentialKind) (Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT kind, access_token, obtained_at, scopes, source FROM credentials WHERE kind = ?;`,
		string(kind))

	var cred Credential
	var obtainedAt int64
	var scopes string
	if err := row.Scan(&cred.Kind, &cred.AccessToken, &obtainedAt, &scopes, &cred.Source); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, fmt.Errorf("get credential: %w", err)
	}
	cred.ObtainedAt = time.Unix(obtainedAt, 0)
	if scopes != "" {
		cred.Scopes = strings.Fields(scopes)
	}
	return cred, nil
}

func (s *Store) DeleteCredential(ctx context.Context, kind CredentialKind) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE kind = ?;`, string(kind)); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (s *Store) SaveProfile(ctx context.Context, profile Profile) error {
	query := `INSERT INTO profile (id, email, display_name, avatar_url, updated_at)
        VALUES (1, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            email = excluded.email,
            display_name = excluded.display_name,
            avatar_url = excluded.avatar_url,
            updated_at = excluded.updated_at;`
	_, err := s.db.ExecContext(ctx, query, profile.Email, profile.Name, profile.Picture, profile.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context) (Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT email, display_name, avatar_url, updated_at FROM profile WHERE id = 1;`)

	var profile Profile
	var updatedAt int64
	if err := row.Scan(&profile.Email, &profile.Name, &profile.Picture, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	profile.UpdatedAt = time.Unix(updatedAt, 0)
	return profile, nil
}

func (s *Store) DeleteProfile(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM profile WHERE id = 1;`); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

func (s *Store) InsertJob(ctx context.Context, job Job) error {
	query := `INSERT INTO outbound_jobs
        (id, subject, body, recipient_email, company_name, location, tech_stack, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?);`
	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Subject,
		job.Body,
		job.RecipientEmail,
		job.CompanyName,
		job.Location,
		job.TechStack,
		job.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Store) ListJobs(ctx context.Context, offset, limit int32) ([]Job, int32, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	var totalCount int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM outbound_jobs;`).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}
	if totalCount > int64(^uint32(0)>>1) {
		totalCount = int64(^uint32(0) >> 1)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, subject, body, recipient_email, company_name, location, tech_stack, created_at
        FROM outbound_jobs
        ORDER BY created_at DESC, id DESC
        LIMIT ? OFFSET ?;`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		var createdAt int64
		if err := rows.Scan(
			&job.ID,
			&job.Subject,
			&job.Body,
			&job.RecipientEmail,
			&job.CompanyName,
			&job.Location,
			&job.TechStack,
			&createdAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		job.CreatedAt = time.Unix(createdAt, 0)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, int32(totalCount), nil
}

func (s *Store) DeleteJob(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM outbound_jobs WHERE id = ?;`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	return rows > 0, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	query := `INSERT INTO settings (key, value)
        VALUES (?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value;`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?;`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?;`, key); err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}
	return nil
}
