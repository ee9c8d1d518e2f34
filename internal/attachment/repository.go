package attachment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/abduss/gomedia/internal/media"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoTimeout = 5 * time.Second

const attachmentColumns = `id, user_id, post_id, file_name, file_size, mime_type, media_type, file_extension,
	width, height, duration, previews, meta, image_sizes, sanitized, checksum, created_at, updated_at`

// Repository persists attachment records in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

var _ recordStore = (*Repository)(nil)

// NewRepository builds a new attachment repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new attachment record.
func (r *Repository) Create(ctx context.Context, a Attachment) (Attachment, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	previews, meta, err := encodeJSON(a)
	if err != nil {
		return Attachment{}, err
	}

	query := `
INSERT INTO attachments (id, user_id, post_id, file_name, file_size, mime_type, media_type, file_extension,
	width, height, duration, previews, meta, sanitized, checksum)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
RETURNING ` + attachmentColumns + `;`

	row := r.pool.QueryRow(ctx, query,
		a.ID, a.UserID, a.PostID, a.FileName, a.FileSize, a.MimeType, a.MediaType, a.FileExtension,
		a.Width, a.Height, a.Duration, previews, meta, a.Sanitized, a.Checksum,
	)
	stored, err := scanAttachment(row)
	if err != nil {
		return Attachment{}, fmt.Errorf("create attachment: %w", err)
	}
	return stored, nil
}

// Get fetches an attachment by id. Legacy records are migrated on read.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Attachment, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE id = $1;`

	a, err := scanAttachment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Attachment{}, ErrNotFound
		}
		return Attachment{}, fmt.Errorf("get attachment: %w", err)
	}
	return a, nil
}

// Update overwrites the mutable fields of an attachment. The sanitized
// version never decreases and the legacy column is dropped once previews are
// written back.
func (r *Repository) Update(ctx context.Context, a Attachment) (Attachment, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	previews, meta, err := encodeJSON(a)
	if err != nil {
		return Attachment{}, err
	}

	query := `
UPDATE attachments
SET post_id = $2, file_name = $3, file_size = $4, mime_type = $5, media_type = $6, file_extension = $7,
	width = $8, height = $9, duration = $10, previews = $11, meta = $12,
	sanitized = GREATEST(sanitized, $13), checksum = $14, image_sizes = NULL, updated_at = NOW()
WHERE id = $1
RETURNING ` + attachmentColumns + `;`

	row := r.pool.QueryRow(ctx, query,
		a.ID, a.PostID, a.FileName, a.FileSize, a.MimeType, a.MediaType, a.FileExtension,
		a.Width, a.Height, a.Duration, previews, meta, a.Sanitized, a.Checksum,
	)
	stored, err := scanAttachment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Attachment{}, ErrNotFound
		}
		return Attachment{}, fmt.Errorf("update attachment: %w", err)
	}
	return stored, nil
}

// Delete removes the record.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM attachments WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InProgressCount counts the user's attachments still awaiting finalization.
func (r *Repository) InProgressCount(ctx context.Context, userID uuid.UUID) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
SELECT COUNT(*) FROM attachments
WHERE user_id = $1 AND meta @> '{"inProgress": true}'::jsonb;`

	var n int
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count in-progress attachments: %w", err)
	}
	return n, nil
}

func encodeJSON(a Attachment) ([]byte, []byte, error) {
	previews := a.Previews
	if previews == nil {
		previews = media.Previews{}
	}
	meta := a.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	p, err := json.Marshal(previews)
	if err != nil {
		return nil, nil, fmt.Errorf("encode previews: %w", err)
	}
	m, err := json.Marshal(meta)
	if err != nil {
		return nil, nil, fmt.Errorf("encode meta: %w", err)
	}
	return p, m, nil
}

func scanAttachment(row pgx.Row) (Attachment, error) {
	var (
		a                         Attachment
		previews, meta, legacyRaw []byte
	)
	err := row.Scan(
		&a.ID, &a.UserID, &a.PostID, &a.FileName, &a.FileSize, &a.MimeType, &a.MediaType, &a.FileExtension,
		&a.Width, &a.Height, &a.Duration, &previews, &meta, &legacyRaw, &a.Sanitized, &a.Checksum,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return Attachment{}, err
	}

	a.Previews = media.Previews{}
	if len(previews) > 0 {
		if err := json.Unmarshal(previews, &a.Previews); err != nil {
			return Attachment{}, fmt.Errorf("decode previews: %w", err)
		}
	}
	a.Meta = map[string]any{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.Meta); err != nil {
			return Attachment{}, fmt.Errorf("decode meta: %w", err)
		}
	}
	if len(legacyRaw) > 0 {
		var sizes map[string]legacySize
		if err := json.Unmarshal(legacyRaw, &sizes); err != nil {
			return Attachment{}, fmt.Errorf("decode image_sizes: %w", err)
		}
		a = migrateLegacy(a, sizes)
	}
	return a, nil
}
