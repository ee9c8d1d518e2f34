// Package media classifies an uploaded file and renders its derivatives:
// bounded image variants, video posters and transcodes, audio metadata.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/abduss/gomedia/internal/config"
	"github.com/abduss/gomedia/internal/metrics"
	"github.com/abduss/gomedia/internal/sniff"
	"github.com/abduss/gomedia/internal/spawn"
	"go.uber.org/zap"
)

// Meta keys written by the generator.
const (
	MetaInProgress    = "inProgress"
	MetaAnimatedImage = "animatedImage"
	MetaSilent        = "silent"
	MetaTitle         = "dc:title"
	MetaCreator       = "dc:creator"
)

// Original is the variant name of the uploaded file itself.
const Original = ""

// PreviewSize describes one stored rendition.
type PreviewSize struct {
	Width  int    `json:"w,omitempty"`
	Height int    `json:"h,omitempty"`
	Ext    string `json:"ext"`
}

// Previews maps preview kind (image, video, audio) to variant name to size.
type Previews map[string]map[string]PreviewSize

// Set records a variant under kind.
func (p Previews) Set(kind, variant string, size PreviewSize) {
	if p[kind] == nil {
		p[kind] = map[string]PreviewSize{}
	}
	p[kind][variant] = size
}

// Variants returns every stored variant with its file extension. The same
// variant may be listed under several kinds; it is one file.
func (p Previews) Variants() map[string]string {
	out := map[string]string{}
	for _, variants := range p {
		for name, size := range variants {
			out[name] = size.Ext
		}
	}
	return out
}

// Options tune a single Process call.
type Options struct {
	// Sync runs slow work (video transcodes, animated loops) inline instead
	// of returning an in-progress stub.
	Sync bool
}

// Result is the outcome of processing one file. Files maps every variant to
// the local file that has to be stored for it.
type Result struct {
	MediaType     string
	MimeType      string
	FileExtension string
	FileSize      int64
	Width         *int
	Height        *int
	Duration      *float64
	Previews      Previews
	Meta          map[string]any
	Files         map[string]string

	temps []string
}

// Deferred reports whether the result is a stub awaiting finalization.
func (r *Result) Deferred() bool {
	v, _ := r.Meta[MetaInProgress].(bool)
	return v
}

// Cleanup removes every temporary file the generator created for r. Files
// already moved into storage are skipped silently.
func (r *Result) Cleanup() {
	for _, path := range r.temps {
		_ = os.Remove(path)
	}
	r.temps = nil
}

func (r *Result) setSize(w, h int) {
	r.Width, r.Height = &w, &h
}

func (r *Result) setDuration(seconds float64) {
	r.Duration = &seconds
}

func (r *Result) deferToWorker() {
	r.Previews = Previews{}
	r.Meta[MetaInProgress] = true
}

// Generator renders derivatives for uploaded files.
type Generator struct {
	cfg     config.MediaConfig
	runner  spawn.Runner
	presets *PresetLibrary
	log     *zap.Logger
}

// New constructs a Generator. A nil presets library falls back to the
// built-in presets.
func New(cfg config.MediaConfig, runner spawn.Runner, presets *PresetLibrary, log *zap.Logger) *Generator {
	if presets == nil {
		presets = DefaultPresets()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RenderConcurrency < 1 {
		cfg.RenderConcurrency = 1
	}
	return &Generator{cfg: cfg, runner: runner, presets: presets, log: log}
}

// Process classifies the file at filePath and renders its derivatives. The
// input file is never modified; derivatives are written to the temp dir and
// listed in Result.Files.
//
// Without Options.Sync, decode and probe failures degrade the result to the
// general media type. With Sync they are returned to the caller.
func (g *Generator) Process(ctx context.Context, filePath, fileName string, opts Options) (*Result, error) {
	start := time.Now()
	defer metrics.ObserveStage("derive", start)

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("stat upload: %w", err)
	}

	mimeType := sniff.Detect(filePath, fileName)
	res := &Result{
		MediaType:     sniff.MediaTypeOf(mimeType),
		MimeType:      mimeType,
		FileExtension: sniff.Extension(mimeType, fileName),
		FileSize:      info.Size(),
		Previews:      Previews{},
		Meta:          map[string]any{},
		Files:         map[string]string{Original: filePath},
	}

	switch res.MediaType {
	case sniff.Image:
		err = g.processImage(ctx, filePath, res, opts)
	case sniff.Audio:
		err = g.processAudio(ctx, filePath, res)
	case sniff.Video:
		err = g.processVideo(ctx, filePath, res, opts)
	}
	if err == nil {
		return res, nil
	}

	res.Cleanup()
	if opts.Sync || errors.Is(err, context.Canceled) {
		return nil, err
	}

	g.log.Warn("derivative processing failed, storing as general file",
		zap.String("mime_type", mimeType), zap.Error(err))
	return &Result{
		MediaType:     sniff.General,
		MimeType:      mimeType,
		FileExtension: res.FileExtension,
		FileSize:      info.Size(),
		Previews:      Previews{},
		Meta:          map[string]any{},
		Files:         map[string]string{Original: filePath},
	}, nil
}

func (g *Generator) tempFile(res *Result, ext string) (string, error) {
	f, err := os.CreateTemp(g.cfg.TempDir, "derive-*."+strings.TrimPrefix(ext, "."))
	if err != nil {
		return "", fmt.Errorf("create derivative file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	res.temps = append(res.temps, name)
	return name, nil
}
