package attachment

import (
	"time"

	"github.com/abduss/gomedia/internal/filestore"
	"github.com/abduss/gomedia/internal/media"
	"github.com/abduss/gomedia/internal/sniff"
	"github.com/google/uuid"
)

// Attachment is one uploaded file and its stored renditions.
type Attachment struct {
	ID            uuid.UUID      `json:"id"`
	UserID        uuid.UUID      `json:"user_id"`
	PostID        *uuid.UUID     `json:"post_id,omitempty"`
	FileName      string         `json:"file_name"`
	FileSize      int64          `json:"file_size"`
	MimeType      string         `json:"mime_type"`
	MediaType     string         `json:"media_type"`
	FileExtension string         `json:"file_extension"`
	Width         *int           `json:"width,omitempty"`
	Height        *int           `json:"height,omitempty"`
	Duration      *float64       `json:"duration,omitempty"`
	Previews      media.Previews `json:"previews"`
	Meta          map[string]any `json:"meta"`
	Sanitized     int            `json:"sanitized"`
	Checksum      string         `json:"checksum,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// InProgress reports whether the attachment is a stub awaiting finalization.
func (a Attachment) InProgress() bool {
	v, _ := a.Meta[media.MetaInProgress].(bool)
	return v
}

// Keys maps every stored variant, the original included, to its storage key.
func (a Attachment) Keys(prefix string) map[string]string {
	id := a.ID.String()
	keys := map[string]string{
		media.Original: filestore.Key(prefix, media.Original, id, a.FileExtension),
	}
	for variant, ext := range a.Previews.Variants() {
		if variant == media.Original {
			continue
		}
		keys[variant] = filestore.Key(prefix, variant, id, ext)
	}
	return keys
}

// extension returns the file extension stored for variant.
func (a Attachment) extension(variant string) string {
	if variant == media.Original {
		return a.FileExtension
	}
	return a.Previews.Variants()[variant]
}

// generatorMeta lists meta keys owned by the derivative generator. They are
// replaced wholesale whenever renditions are regenerated.
var generatorMeta = []string{
	media.MetaInProgress,
	media.MetaAnimatedImage,
	media.MetaSilent,
	media.MetaTitle,
	media.MetaCreator,
}

// apply copies the outcome of a processing run onto a.
func (a *Attachment) apply(res *media.Result) {
	a.MediaType = res.MediaType
	a.MimeType = res.MimeType
	a.FileExtension = res.FileExtension
	a.FileSize = res.FileSize
	a.Width, a.Height, a.Duration = res.Width, res.Height, res.Duration
	a.Previews = res.Previews
	if a.Previews == nil {
		a.Previews = media.Previews{}
	}

	meta := make(map[string]any, len(a.Meta)+len(res.Meta))
	for k, v := range a.Meta {
		meta[k] = v
	}
	for _, k := range generatorMeta {
		delete(meta, k)
	}
	for k, v := range res.Meta {
		meta[k] = v
	}
	a.Meta = meta
}

// legacySize is one entry of the retired image_sizes column.
type legacySize struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Ext    string `json:"ext,omitempty"`
}

var legacyVariants = map[string]string{
	"o":  media.Original,
	"t":  "thumbnails",
	"t2": "thumbnails2",
}

// migrateLegacy builds previews from image_sizes for records written before
// previews existed. Records that already have previews are returned as is.
func migrateLegacy(a Attachment, sizes map[string]legacySize) Attachment {
	if len(a.Previews) > 0 || len(sizes) == 0 {
		return a
	}
	previews := media.Previews{}
	for old, size := range sizes {
		variant, ok := legacyVariants[old]
		if !ok {
			continue
		}
		ext := size.Ext
		if ext == "" {
			ext = a.FileExtension
		}
		previews.Set(sniff.Image, variant, media.PreviewSize{Width: size.Width, Height: size.Height, Ext: ext})
	}
	a.Previews = previews
	return a
}
