package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ProbeResult is the subset of ffprobe output the pipeline uses.
type ProbeResult struct {
	Duration     float64
	VideoStreams []VideoStream
	HasAudio     bool
}

// VideoStream describes one video stream.
type VideoStream struct {
	Codec    string
	Width    int
	Height   int
	Rotation int
}

func (g *Generator) probe(ctx context.Context, path string) (ProbeResult, error) {
	if strings.TrimSpace(path) == "" {
		return ProbeResult{}, fmt.Errorf("probe: empty path")
	}
	out, err := g.runner.Run(ctx, g.cfg.FFprobePath,
		"-v", "error", "-print_format", "json", "-show_format", "-show_streams", path)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbeOutput(out)
}

func parseProbeOutput(data []byte) (ProbeResult, error) {
	var payload struct {
		Streams []struct {
			CodecType   string            `json:"codec_type"`
			CodecName   string            `json:"codec_name"`
			Width       int               `json:"width"`
			Height      int               `json:"height"`
			Tags        map[string]string `json:"tags"`
			Disposition struct {
				AttachedPic int `json:"attached_pic"`
			} `json:"disposition"`
			SideData []struct {
				Rotation int `json:"rotation"`
			} `json:"side_data_list"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ProbeResult{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var result ProbeResult
	if d, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil && d > 0 {
		result.Duration = d
	}
	for _, s := range payload.Streams {
		switch s.CodecType {
		case "video":
			// embedded cover art
			if s.Disposition.AttachedPic == 1 {
				continue
			}
			stream := VideoStream{Codec: s.CodecName, Width: s.Width, Height: s.Height}
			if r, err := strconv.Atoi(s.Tags["rotate"]); err == nil {
				stream.Rotation = r
			}
			for _, sd := range s.SideData {
				if sd.Rotation != 0 {
					stream.Rotation = sd.Rotation
				}
			}
			result.VideoStreams = append(result.VideoStreams, stream)
		case "audio":
			result.HasAudio = true
		}
	}
	return result, nil
}

// displaySize returns the stream size as shown to viewers, honoring rotation.
func (s VideoStream) displaySize() (int, int) {
	r := ((s.Rotation % 360) + 360) % 360
	if r == 90 || r == 270 {
		return s.Height, s.Width
	}
	return s.Width, s.Height
}
