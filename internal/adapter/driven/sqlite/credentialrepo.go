package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// Values are encrypted with the SiteCipher before write and decrypted after read.
// With a disabled cipher they are stored as plaintext.
type CredentialRepo struct {
	db     *DB
	cipher *SiteCipher
	logger *slog.Logger
}

// NewCredentialRepo creates a new CredentialRepo. A nil or disabled cipher
// stores values as plaintext.
func NewCredentialRepo(db *DB, cipher *SiteCipher, logger *slog.Logger) *CredentialRepo {
	if cipher == nil {
		cipher = &SiteCipher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialRepo{db: db, cipher: cipher, logger: logger}
}

// Set stores or replaces the credential with the provided plaintext value.
func (r *CredentialRepo) Set(ctx context.Context, name, plaintext string) error {
	stored, err := r.cipher.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("encrypt credential %q: %w", name, err)
	}

	const query = `
		INSERT INTO credentials (name, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := r.db.Writer.ExecContext(ctx, query, name, stored); err != nil {
		return fmt.Errorf("set credential %q: %w", name, err)
	}
	return nil
}

// Get retrieves the plaintext credential. Returns ("", nil) if none exists.
// A value that fails to decrypt, e.g. one written before the site secret was
// configured, is returned as stored.
func (r *CredentialRepo) Get(ctx context.Context, name string) (string, error) {
	const query = `SELECT value FROM credentials WHERE name = ?`

	var stored string
	err := r.db.Reader.QueryRowContext(ctx, query, name).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get credential %q: %w", name, err)
	}

	plaintext, err := r.cipher.Decrypt(stored)
	if err != nil {
		r.logger.Warn("credential could not be decrypted, using stored value", "name", name, "error", err)
		return stored, nil
	}
	return plaintext, nil
}

// Delete removes the credential with the given name.
func (r *CredentialRepo) Delete(ctx context.Context, name string) error {
	const query = `DELETE FROM credentials WHERE name = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, name); err != nil {
		return fmt.Errorf("delete credential %q: %w", name, err)
	}
	return nil
}
