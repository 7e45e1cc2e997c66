package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	pkgerrors "github.com/pkg/errors"

	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
)

type pgCharacterStore struct {
	db *DB
}

// NewCharacterStore returns a Postgres-backed CharacterStore.
func NewCharacterStore(db *DB) CharacterStore { return &pgCharacterStore{db: db} }

func (s *pgCharacterStore) Insert(ctx context.Context, c *job.CharacterSheet) error {
	appearance, err := json.Marshal(c.Appearance)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal appearance")
	}
	clothing, err := json.Marshal(c.Clothing)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal clothing")
	}
	traits, err := json.Marshal(c.PersonalityTraits)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal traits")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO characters (character_id, master_description, appearance, clothing, personality_traits, style_notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (character_id) DO NOTHING
	`, c.CharacterID, c.MasterDescription, appearance, clothing, traits, c.StyleNotes, c.CreatedAt)
	return pkgerrors.Wrap(err, "insert character")
}

func (s *pgCharacterStore) Get(ctx context.Context, characterID string) (*job.CharacterSheet, error) {
	var c job.CharacterSheet
	var appearance, clothing, traits []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT character_id, master_description, appearance, clothing, personality_traits, style_notes, created_at
		FROM characters WHERE character_id = $1
	`, characterID).Scan(&c.CharacterID, &c.MasterDescription, &appearance, &clothing, &traits, &c.StyleNotes, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "get character")
	}
	if err := json.Unmarshal(appearance, &c.Appearance); err != nil {
		return nil, pkgerrors.Wrap(err, "unmarshal appearance")
	}
	if err := json.Unmarshal(clothing, &c.Clothing); err != nil {
		return nil, pkgerrors.Wrap(err, "unmarshal clothing")
	}
	if err := json.Unmarshal(traits, &c.PersonalityTraits); err != nil {
		return nil, pkgerrors.Wrap(err, "unmarshal traits")
	}
	return &c, nil
}
