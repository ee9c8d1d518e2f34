package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultQueryTimeout = 5 * time.Second

// PreferenceRepository reads user preferences from the users table.
type PreferenceRepository struct {
	pool *pgxpool.Pool
}

// NewPreferenceRepository constructs a PreferenceRepository.
func NewPreferenceRepository(pool *pgxpool.Pool) *PreferenceRepository {
	return &PreferenceRepository{pool: pool}
}

// Preferences loads the user's preferences. Unknown users get the defaults.
func (r *PreferenceRepository) Preferences(ctx context.Context, userID uuid.UUID) (Preferences, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	query := `SELECT preferences FROM users WHERE id = $1;`

	var raw []byte
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Preferences{}, nil
		}
		return Preferences{}, fmt.Errorf("load preferences: %w", err)
	}
	return decodePreferences(raw)
}

// SanitizeMetadata reports whether the user opted into metadata stripping.
func (r *PreferenceRepository) SanitizeMetadata(ctx context.Context, userID uuid.UUID) (bool, error) {
	prefs, err := r.Preferences(ctx, userID)
	if err != nil {
		return false, err
	}
	return prefs.SanitizeMetadata, nil
}

func decodePreferences(raw []byte) (Preferences, error) {
	var prefs Preferences
	if len(raw) == 0 {
		return prefs, nil
	}
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return Preferences{}, fmt.Errorf("decode preferences: %w", err)
	}
	return prefs, nil
}
