package media

import (
	"context"
	"encoding/xml"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/abduss/gomedia/internal/config"
	"github.com/abduss/gomedia/internal/sniff"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

func (g *Generator) processImage(ctx context.Context, path string, res *Result, opts Options) error {
	if res.MimeType == "image/svg+xml" {
		w, h := svgSize(path)
		res.setSize(w, h)
		res.Previews.Set(sniff.Image, Original, PreviewSize{Width: w, Height: h, Ext: res.FileExtension})
		return nil
	}

	cfg, format, err := decodeConfig(path)
	if err != nil {
		return err
	}

	if format == "gif" {
		anim, err := decodeGIF(path)
		if err != nil {
			return err
		}
		if len(anim.Image) > 1 {
			res.setSize(cfg.Width, cfg.Height)
			if !opts.Sync {
				res.deferToWorker()
				return nil
			}
			return g.processAnimated(ctx, path, anim, res)
		}
	}

	orientation := readOrientation(path)
	w, h := cfg.Width, cfg.Height
	if orientation.swapsAxes() {
		w, h = h, w
	}
	bounds := applicableBounds(w, h, g.cfg.ImageBounds)
	if orientation == orientNormal && len(bounds) == 0 {
		res.setSize(w, h)
		res.Previews.Set(sniff.Image, Original, PreviewSize{Width: w, Height: h, Ext: res.FileExtension})
		return nil
	}

	img, err := decodeImage(path)
	if err != nil {
		return err
	}

	if orientation != orientNormal {
		img = orientation.apply(img)
		w, h = img.Bounds().Dx(), img.Bounds().Dy()
		ext := encodeExt(format)
		out, err := g.tempFile(res, ext)
		if err != nil {
			return err
		}
		if err := g.encode(out, img, ext); err != nil {
			return err
		}
		res.Files[Original] = out
		if info, err := os.Stat(out); err == nil {
			res.FileSize = info.Size()
		}
		if ext != res.FileExtension {
			res.FileExtension = ext
			res.MimeType = sniff.TypeByExtension(ext)
		}
	}

	res.setSize(w, h)
	res.Previews.Set(sniff.Image, Original, PreviewSize{Width: w, Height: h, Ext: res.FileExtension})
	return g.renderVariants(ctx, img, encodeExt(format), bounds, res)
}

// processAnimated indexes the original, renders still variants from the first
// frame and a silent looping video.
func (g *Generator) processAnimated(ctx context.Context, path string, anim *gif.GIF, res *Result) error {
	w, h := anim.Config.Width, anim.Config.Height
	res.Meta[MetaAnimatedImage] = true
	res.Previews.Set(sniff.Image, Original, PreviewSize{Width: w, Height: h, Ext: res.FileExtension})

	poster := firstFrame(anim)
	if err := g.renderVariants(ctx, poster, "png", applicableBounds(w, h, g.cfg.ImageBounds), res); err != nil {
		return err
	}

	vw, vh := evenDims(fitIfLarger(w, h, g.cfg.VideoBound))
	out, err := g.tempFile(res, "mp4")
	if err != nil {
		return err
	}
	args := []string{"-y", "-v", "error", "-i", path,
		"-vf", fmt.Sprintf("scale=%d:%d", vw, vh),
		"-an", "-movflags", "+faststart", "-pix_fmt", "yuv420p",
		"-c:v", "libx264", out}
	if _, err := g.runner.Run(ctx, g.cfg.FFmpegPath, args...); err != nil {
		return fmt.Errorf("render animation loop: %w", err)
	}
	res.Files[g.cfg.VideoBound.Name] = out
	res.Previews.Set(sniff.Video, g.cfg.VideoBound.Name, PreviewSize{Width: vw, Height: vh, Ext: "mp4"})
	return nil
}

// renderVariants scales img into every bound concurrently.
func (g *Generator) renderVariants(ctx context.Context, img image.Image, ext string, bounds []config.Bound, res *Result) error {
	if len(bounds) == 0 {
		return nil
	}
	srcW, srcH := img.Bounds().Dx(), img.Bounds().Dy()

	type rendered struct {
		name string
		path string
		size PreviewSize
	}
	outs := make([]rendered, len(bounds))
	for i, b := range bounds {
		path, err := g.tempFile(res, ext)
		if err != nil {
			return err
		}
		w, h := FitIntoBounds(srcW, srcH, b.Width, b.Height)
		outs[i] = rendered{name: b.Name, path: path, size: PreviewSize{Width: w, Height: h, Ext: ext}}
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.RenderConcurrency)
	for i := range outs {
		out := outs[i]
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			scaled := resize.Resize(uint(out.size.Width), uint(out.size.Height), img, resize.Lanczos3)
			return g.encode(out.path, scaled, ext)
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for _, out := range outs {
		res.Files[out.name] = out.path
		res.Previews.Set(sniff.Image, out.name, out.size)
	}
	return nil
}

func (g *Generator) encode(path string, img image.Image, ext string) error {
	format := imaging.PNG
	if ext == "jpg" {
		format = imaging.JPEG
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", ext, err)
	}
	if err := imaging.Encode(f, img, format, imaging.JPEGQuality(g.cfg.JPEGQuality)); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", ext, err)
	}
	return f.Close()
}

// encodeExt picks the derivative format for a decoded source format.
func encodeExt(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return "png"
}

func decodeConfig(path string) (image.Config, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, "", fmt.Errorf("decode image header: %w", err)
	}
	return cfg, format, nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func decodeGIF(path string) (*gif.GIF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	anim, err := gif.DecodeAll(f)
	if err != nil {
		return nil, fmt.Errorf("decode gif: %w", err)
	}
	return anim, nil
}

func firstFrame(anim *gif.GIF) image.Image {
	canvas := image.NewRGBA(image.Rect(0, 0, anim.Config.Width, anim.Config.Height))
	frame := anim.Image[0]
	draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
	return canvas
}

// svgSize reads the natural size of an SVG document from its width/height
// attributes or, failing that, its viewBox. Unknown sizes are 0.
func svgSize(path string) (int, int) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	dec := xml.NewDecoder(io.LimitReader(f, 1<<20))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			return 0, 0
		}
		el, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !strings.EqualFold(el.Name.Local, "svg") {
			return 0, 0
		}
		var w, h int
		var viewBox string
		for _, attr := range el.Attr {
			switch attr.Name.Local {
			case "width":
				w = svgLength(attr.Value)
			case "height":
				h = svgLength(attr.Value)
			case "viewBox":
				viewBox = attr.Value
			}
		}
		if w > 0 && h > 0 {
			return w, h
		}
		fields := strings.Fields(strings.ReplaceAll(viewBox, ",", " "))
		if len(fields) == 4 {
			return svgLength(fields[2]), svgLength(fields[3])
		}
		return 0, 0
	}
}

func svgLength(v string) int {
	v = strings.TrimSuffix(strings.TrimSpace(v), "px")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0
	}
	return int(f + 0.5)
}
