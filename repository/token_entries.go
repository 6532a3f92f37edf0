package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/uptrace/bun"
)

// TokenEntryModel is the Bun model for persisted token blobs.
type TokenEntryModel struct {
	bun.BaseModel `bun:"table:auth_token_entries"`

	Key       string    `bun:"entry_key,pk"`
	Value     string    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// TokenEntries implements authclient.Storage using Bun.
type TokenEntries struct {
	db *bun.DB
}

var _ authclient.Storage = (*TokenEntries)(nil)

// NewTokenEntries creates a new repository.
func NewTokenEntries(db *bun.DB) *TokenEntries {
	return &TokenEntries{db: db}
}

// CreateTable creates the backing table when missing.
func (r *TokenEntries) CreateTable(ctx context.Context) error {
	_, err := r.db.NewCreateTable().
		Model((*TokenEntryModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

// Get implements authclient.Storage.
func (r *TokenEntries) Get(ctx context.Context, key string) (string, error) {
	var model TokenEntryModel
	err := r.db.NewSelect().
		Model(&model).
		Where("entry_key = ?", key).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", authclient.ErrStorageEntryNotFound.Clone().
				WithMetadata(map[string]any{"key": key})
		}
		return "", err
	}
	return model.Value, nil
}

// Set implements authclient.Storage.
func (r *TokenEntries) Set(ctx context.Context, key, value string) error {
	model := &TokenEntryModel{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}

	_, err := r.db.NewInsert().
		Model(model).
		On("CONFLICT (entry_key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// Delete implements authclient.Storage.
func (r *TokenEntries) Delete(ctx context.Context, key string) error {
	_, err := r.db.NewDelete().
		Model((*TokenEntryModel)(nil)).
		Where("entry_key = ?", key).
		Exec(ctx)
	return err
}
