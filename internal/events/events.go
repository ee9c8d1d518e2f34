// Package events publishes attachment and post change notifications over
// Postgres NOTIFY for the realtime layer to fan out.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Channel is the NOTIFY channel events are published on.
const Channel = "media_events"

// Event types.
const (
	AttachmentCreated = "attachment:created"
	AttachmentUpdated = "attachment:updated"
	PostUpdated       = "post:updated"
)

// Event is the NOTIFY payload.
type Event struct {
	Type         string     `json:"type"`
	AttachmentID *uuid.UUID `json:"attachmentId,omitempty"`
	PostID       *uuid.UUID `json:"postId,omitempty"`
	At           time.Time  `json:"at"`
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Notifier publishes events with pg_notify.
type Notifier struct {
	db      execer
	channel string
	log     *zap.Logger
	now     func() time.Time
}

// NewNotifier constructs a Notifier; db is typically a *pgxpool.Pool.
func NewNotifier(db execer, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{db: db, channel: Channel, log: log, now: time.Now}
}

func (n *Notifier) AttachmentCreated(ctx context.Context, id uuid.UUID) error {
	return n.publish(ctx, Event{Type: AttachmentCreated, AttachmentID: &id})
}

func (n *Notifier) AttachmentUpdated(ctx context.Context, id uuid.UUID) error {
	return n.publish(ctx, Event{Type: AttachmentUpdated, AttachmentID: &id})
}

func (n *Notifier) PostUpdated(ctx context.Context, postID uuid.UUID) error {
	return n.publish(ctx, Event{Type: PostUpdated, PostID: &postID})
}

func (n *Notifier) publish(ctx context.Context, ev Event) error {
	ev.At = n.now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := n.db.Exec(ctx, `SELECT pg_notify($1, $2)`, n.channel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", ev.Type, err)
	}
	n.log.Debug("event published", zap.String("type", ev.Type))
	return nil
}
