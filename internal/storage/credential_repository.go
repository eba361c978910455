package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/portfolio-bridge/internal/crypto"
	"github.com/portfolio-bridge/internal/types"
)

// ErrCredentialsNotFound is returned when a user has no stored credentials
var ErrCredentialsNotFound = errors.New("credentials not found")

// CredentialRepository handles exchange credential persistence. API keys and
// secrets are encrypted before they touch the database and decrypted only
// for the duration of a request.
type CredentialRepository struct {
	db     *PostgresDB
	cipher *crypto.Cipher
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *PostgresDB, cipher *crypto.Cipher) *CredentialRepository {
	return &CredentialRepository{db: db, cipher: cipher}
}

// Upsert stores or replaces a user's exchange credentials
func (r *CredentialRepository) Upsert(ctx context.Context, userID string, creds *types.Credentials) error {
	keyEnc, err := r.cipher.Encrypt(creds.APIKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt API key: %w", err)
	}
	secretEnc, err := r.cipher.Encrypt(creds.APISecret)
	if err != nil {
		return fmt.Errorf("failed to encrypt API secret: %w", err)
	}

	now := time.Now()
	query := `
		INSERT INTO exchange_credentials (id, user_id, api_key_enc, api_secret_enc, use_testnet, label, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			api_key_enc = EXCLUDED.api_key_enc,
			api_secret_enc = EXCLUDED.api_secret_enc,
			use_testnet = EXCLUDED.use_testnet,
			label = EXCLUDED.label,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.Pool().Exec(ctx, query,
		uuid.New().String(),
		userID,
		keyEnc,
		secretEnc,
		creds.UseTestnet,
		creds.Label,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credentials: %w", err)
	}

	return nil
}

// Get retrieves and decrypts a user's exchange credentials
func (r *CredentialRepository) Get(ctx context.Context, userID string) (*types.Credentials, error) {
	query := `
		SELECT api_key_enc, api_secret_enc, use_testnet, label, updated_at
		FROM exchange_credentials
		WHERE user_id = $1
	`

	var keyEnc, secretEnc string
	var creds types.Credentials
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(
		&keyEnc,
		&secretEnc,
		&creds.UseTestnet,
		&creds.Label,
		&creds.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	creds.APIKey, err = r.cipher.Decrypt(keyEnc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt API key: %w", err)
	}
	creds.APISecret, err = r.cipher.Decrypt(secretEnc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt API secret: %w", err)
	}

	return &creds, nil
}

// GetMetadata retrieves the client-visible view of stored credentials.
// Only the API key is decrypted, and only to mask it.
func (r *CredentialRepository) GetMetadata(ctx context.Context, userID string) (*types.CredentialsMetadata, error) {
	query := `
		SELECT api_key_enc, use_testnet, label, updated_at
		FROM exchange_credentials
		WHERE user_id = $1
	`

	var keyEnc string
	var meta types.CredentialsMetadata
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(
		&keyEnc,
		&meta.UseTestnet,
		&meta.Label,
		&meta.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	apiKey, err := r.cipher.Decrypt(keyEnc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt API key: %w", err)
	}
	meta.MaskedKey = types.MaskKey(apiKey)

	return &meta, nil
}

// Delete removes a user's stored credentials
func (r *CredentialRepository) Delete(ctx context.Context, userID string) error {
	query := `DELETE FROM exchange_credentials WHERE user_id = $1`

	result, err := r.db.Pool().Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrCredentialsNotFound
	}

	return nil
}

// Exists checks whether a user has stored credentials
func (r *CredentialRepository) Exists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM exchange_credentials WHERE user_id = $1)`

	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check credentials existence: %w", err)
	}

	return exists, nil
}
