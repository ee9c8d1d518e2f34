package media

import (
	"context"
	"os"
	"strings"

	"github.com/abduss/gomedia/internal/sniff"
	"github.com/dhowden/tag"
	"go.uber.org/zap"
)

func (g *Generator) processAudio(ctx context.Context, path string, res *Result) error {
	res.MediaType = sniff.Audio

	if title, artist := readAudioTags(path); title != "" || artist != "" {
		if title != "" {
			res.Meta[MetaTitle] = title
		}
		if artist != "" {
			res.Meta[MetaCreator] = artist
		}
	}

	if probe, err := g.probe(ctx, path); err != nil {
		g.log.Debug("audio duration unavailable", zap.Error(err))
	} else if probe.Duration > 0 {
		res.setDuration(probe.Duration)
	}

	res.Previews.Set(sniff.Audio, Original, PreviewSize{Ext: res.FileExtension})
	return nil
}

func readAudioTags(path string) (title, artist string) {
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return "", ""
	}
	return firstValue(m.Title()), firstValue(m.Artist())
}

// firstValue collapses a multi-valued tag (NUL separated in ID3v2.4) to its
// first non-empty value.
func firstValue(raw string) string {
	for _, v := range strings.Split(raw, "\x00") {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
