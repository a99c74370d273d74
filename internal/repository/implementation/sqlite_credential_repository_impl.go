package implementation

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ai-qa-sync/internal/entity"
	"ai-qa-sync/internal/repository/contract"

	_ "modernc.org/sqlite"
)

// SQLiteCredentialRepository persists the credential pair in a small
// key-value table inside a local sqlite file.
type SQLiteCredentialRepository struct {
	db *sql.DB
}

var _ contract.ICredentialRepository = (*SQLiteCredentialRepository)(nil)

func NewSQLiteCredentialRepository(dbPath string) (*SQLiteCredentialRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	// One writer at a time keeps sqlite out of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return &SQLiteCredentialRepository{db: db}, nil
}

func (r *SQLiteCredentialRepository) Load(ctx context.Context) (*entity.Credential, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE key IN (?, ?, ?)`,
		contract.KeyAccessToken, contract.KeyRefreshToken, contract.KeyExpiresHint)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, 3)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	access, ok := values[contract.KeyAccessToken]
	if !ok {
		return nil, nil
	}

	cred := &entity.Credential{
		AccessToken:  access,
		RefreshToken: values[contract.KeyRefreshToken],
	}
	if hint := values[contract.KeyExpiresHint]; hint != "" {
		if t, err := time.Parse(time.RFC3339Nano, hint); err == nil {
			cred.ExpiresHint = t
		}
	}
	return cred, nil
}

func (r *SQLiteCredentialRepository) Save(ctx context.Context, cred entity.Credential) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	hint := ""
	if !cred.ExpiresHint.IsZero() {
		hint = cred.ExpiresHint.Format(time.RFC3339Nano)
	}

	pairs := [][2]string{
		{contract.KeyAccessToken, cred.AccessToken},
		{contract.KeyRefreshToken, cred.RefreshToken},
		{contract.KeyExpiresHint, hint},
	}
	for _, kv := range pairs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
		`, kv[0], kv[1]); err != nil {
			return fmt.Errorf("failed to write %s: %w", kv[0], err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteCredentialRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM kv WHERE key IN (?, ?, ?)`,
		contract.KeyAccessToken, contract.KeyRefreshToken, contract.KeyExpiresHint)
	if err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}

func (r *SQLiteCredentialRepository) Close() error {
	return r.db.Close()
}
