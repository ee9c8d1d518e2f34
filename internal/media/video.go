package media

import (
	"context"
	"fmt"

	"github.com/abduss/gomedia/internal/sniff"
	"go.uber.org/zap"
)

func (g *Generator) processVideo(ctx context.Context, path string, res *Result, opts Options) error {
	probe, err := g.probe(ctx, path)
	if err == nil && len(probe.VideoStreams) == 0 && probe.HasAudio {
		// audio-only container sniffed as video, e.g. an .m4a
		res.MimeType = "audio/mp4"
		res.FileExtension = sniff.Extension(res.MimeType, "")
		return g.processAudio(ctx, path, res)
	}

	if !opts.Sync {
		if err != nil {
			g.log.Debug("provisional video probe failed", zap.Error(err))
		} else {
			fillVideoInfo(res, probe)
		}
		res.deferToWorker()
		return nil
	}

	if err != nil {
		return err
	}
	if len(probe.VideoStreams) == 0 {
		return fmt.Errorf("probe: no video streams")
	}
	w, h := fillVideoInfo(res, probe)
	res.Previews.Set(sniff.Video, Original, PreviewSize{Width: w, Height: h, Ext: res.FileExtension})
	if !probe.HasAudio {
		res.Meta[MetaSilent] = true
	}

	if err := g.renderPoster(ctx, path, w, h, probe.Duration, res); err != nil {
		return err
	}
	return g.transcode(ctx, path, w, h, !probe.HasAudio, res)
}

func fillVideoInfo(res *Result, probe ProbeResult) (int, int) {
	if probe.Duration > 0 {
		res.setDuration(probe.Duration)
	}
	if len(probe.VideoStreams) == 0 {
		return 0, 0
	}
	w, h := probe.VideoStreams[0].displaySize()
	res.setSize(w, h)
	return w, h
}

func (g *Generator) renderPoster(ctx context.Context, path string, w, h int, duration float64, res *Result) error {
	b := g.cfg.PosterBound
	pw, ph := fitIfLarger(w, h, b)
	out, err := g.tempFile(res, "jpg")
	if err != nil {
		return err
	}

	seek := min(1.0, duration/2)
	args := []string{"-y", "-v", "error",
		"-ss", fmt.Sprintf("%.3f", seek), "-i", path,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", pw, ph),
		"-q:v", "3", out}
	if _, err := g.runner.Run(ctx, g.cfg.FFmpegPath, args...); err != nil {
		return fmt.Errorf("render poster: %w", err)
	}
	res.Files[b.Name] = out
	res.Previews.Set(sniff.Image, b.Name, PreviewSize{Width: pw, Height: ph, Ext: "jpg"})
	return nil
}

func (g *Generator) transcode(ctx context.Context, path string, w, h int, silent bool, res *Result) error {
	b := g.cfg.VideoBound
	vw, vh := evenDims(fitIfLarger(w, h, b))
	out, err := g.tempFile(res, "mp4")
	if err != nil {
		return err
	}

	preset := g.presets.Get(g.cfg.PresetName)
	args := []string{"-y", "-v", "error", "-i", path, "-vf", fmt.Sprintf("scale=%d:%d", vw, vh)}
	args = append(args, preset.Args(silent)...)
	args = append(args, out)
	if _, err := g.runner.Run(ctx, g.cfg.FFmpegPath, args...); err != nil {
		return fmt.Errorf("transcode preview: %w", err)
	}
	res.Files[b.Name] = out
	res.Previews.Set(sniff.Video, b.Name, PreviewSize{Width: vw, Height: vh, Ext: "mp4"})
	return nil
}
