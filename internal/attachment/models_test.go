package attachment

import (
	"context"
	"errors"
	"testing"

	"github.com/abduss/gomedia/internal/media"
	"github.com/abduss/gomedia/internal/sniff"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestKeysCoverEveryVariant(t *testing.T) {
	id := uuid.MustParse("5b0b8a51-0f1c-4b55-8d0e-3f2f3bd0a001")
	a := Attachment{
		ID:            id,
		FileExtension: "mp4",
		Previews: media.Previews{
			sniff.Video: {"": {Ext: "mp4"}, "v1": {Ext: "mp4"}},
			sniff.Image: {"p1": {Ext: "jpg"}},
		},
	}

	assert.Equal(t, map[string]string{
		"":   "att/" + id.String() + ".mp4",
		"v1": "att/v1/" + id.String() + ".mp4",
		"p1": "att/p1/" + id.String() + ".jpg",
	}, a.Keys("att/"))
}

func TestKeysWithoutExtension(t *testing.T) {
	id := uuid.New()
	a := Attachment{ID: id}
	assert.Equal(t, map[string]string{"": id.String()}, a.Keys(""))
}

func TestApplyReplacesGeneratorMeta(t *testing.T) {
	a := Attachment{Meta: map[string]any{
		media.MetaInProgress: true,
		media.MetaTitle:      "old",
		"caption":            "kept",
	}}
	a.apply(&media.Result{MediaType: sniff.Video, Meta: map[string]any{media.MetaSilent: true}})

	assert.Equal(t, map[string]any{"caption": "kept", media.MetaSilent: true}, a.Meta)
	assert.NotNil(t, a.Previews)
	assert.False(t, a.InProgress())
}

func TestMigrateLegacySizes(t *testing.T) {
	a := Attachment{FileExtension: "jpg"}
	got := migrateLegacy(a, map[string]legacySize{
		"o":  {Width: 2000, Height: 1000},
		"t":  {Width: 350, Height: 175},
		"t2": {Width: 700, Height: 350, Ext: "png"},
		"zz": {Width: 1, Height: 1},
	})

	assert.Equal(t, media.Previews{sniff.Image: {
		"":            {Width: 2000, Height: 1000, Ext: "jpg"},
		"thumbnails":  {Width: 350, Height: 175, Ext: "jpg"},
		"thumbnails2": {Width: 700, Height: 350, Ext: "png"},
	}}, got.Previews)
}

func TestMigrateLegacyLeavesCurrentRecords(t *testing.T) {
	current := media.Previews{sniff.Audio: {"": {Ext: "mp3"}}}
	a := Attachment{Previews: current}

	got := migrateLegacy(a, map[string]legacySize{"o": {Width: 1, Height: 1}})
	assert.Equal(t, current, got.Previews)

	empty := migrateLegacy(Attachment{}, nil)
	assert.Nil(t, empty.Previews)
}

func TestUndoStackUnwindsNewestFirst(t *testing.T) {
	var order []string
	u := newUndoStack(zap.NewNop())
	u.push("first", func(context.Context) error { order = append(order, "first"); return nil })
	u.push("second", func(context.Context) error { order = append(order, "second"); return errors.New("boom") })
	u.push("third", func(context.Context) error { order = append(order, "third"); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	u.unwind(ctx)
	u.unwind(ctx)

	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestUndoStackRunsWithLiveContext(t *testing.T) {
	u := newUndoStack(zap.NewNop())
	var sawErr error
	u.push("check", func(ctx context.Context) error { sawErr = ctx.Err(); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	u.unwind(ctx)
	assert.NoError(t, sawErr)
}

type countStub struct {
	n   int
	err error
}

func (c countStub) InProgressCount(context.Context, uuid.UUID) (int, error) {
	return c.n, c.err
}

func TestQuotaTrackerTryReserve(t *testing.T) {
	tests := []struct {
		name  string
		count int
		limit int
		want  bool
	}{
		{name: "below", count: 4, limit: 5, want: true},
		{name: "at limit", count: 5, limit: 5, want: false},
		{name: "zero limit", count: 0, limit: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQuotaTracker(countStub{n: tt.count})
			ok, err := q.TryReserve(context.Background(), uuid.New(), tt.limit)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestQuotaTrackerPropagatesErrors(t *testing.T) {
	q := NewQuotaTracker(countStub{err: errors.New("db down")})
	ok, err := q.TryReserve(context.Background(), uuid.New(), 5)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestStorageErrorUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := error(&StorageError{Op: "place", Key: "a/b.png", Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "a/b.png")
}
