package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExec struct {
	sql  []string
	args [][]any
	err  error
}

func (r *recordingExec) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	r.sql = append(r.sql, sql)
	r.args = append(r.args, arguments)
	return pgconn.CommandTag{}, r.err
}

func TestNotifierPublishesJSONPayload(t *testing.T) {
	db := &recordingExec{}
	n := NewNotifier(db, nil)
	n.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	id := uuid.New()

	require.NoError(t, n.AttachmentUpdated(context.Background(), id))

	require.Len(t, db.args, 1)
	assert.Equal(t, Channel, db.args[0][0])
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(db.args[0][1].(string)), &ev))
	assert.Equal(t, AttachmentUpdated, ev.Type)
	require.NotNil(t, ev.AttachmentID)
	assert.Equal(t, id, *ev.AttachmentID)
	assert.Nil(t, ev.PostID)
}

func TestNotifierPostUpdated(t *testing.T) {
	db := &recordingExec{}
	n := NewNotifier(db, nil)
	postID := uuid.New()

	require.NoError(t, n.PostUpdated(context.Background(), postID))

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(db.args[0][1].(string)), &ev))
	assert.Equal(t, PostUpdated, ev.Type)
	assert.Equal(t, postID, *ev.PostID)
}

func TestNotifierWrapsFailure(t *testing.T) {
	db := &recordingExec{err: errors.New("connection reset")}
	n := NewNotifier(db, nil)

	err := n.AttachmentCreated(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), AttachmentCreated)
}
