package media

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Preset holds the ffmpeg encoder settings for the transcoded video preview.
type Preset struct {
	Name         string   `yaml:"-"`
	VideoCodec   string   `yaml:"video_codec"`
	AudioCodec   string   `yaml:"audio_codec"`
	VideoBitrate string   `yaml:"video_bitrate"`
	AudioBitrate string   `yaml:"audio_bitrate"`
	PixelFormat  string   `yaml:"pixel_format"`
	FrameRate    string   `yaml:"frame_rate"`
	ExtraArgs    []string `yaml:"extra_args"`
}

// Args returns the encoder arguments. Audio settings are dropped for silent
// sources.
func (p Preset) Args(silent bool) []string {
	args := make([]string, 0, 12+len(p.ExtraArgs))
	if p.VideoCodec != "" {
		args = append(args, "-c:v", p.VideoCodec)
	}
	if p.VideoBitrate != "" {
		args = append(args, "-b:v", p.VideoBitrate)
	}
	if p.PixelFormat != "" {
		args = append(args, "-pix_fmt", p.PixelFormat)
	}
	if p.FrameRate != "" {
		args = append(args, "-r", p.FrameRate)
	}
	if silent {
		args = append(args, "-an")
	} else {
		if p.AudioCodec != "" {
			args = append(args, "-c:a", p.AudioCodec)
		}
		if p.AudioBitrate != "" {
			args = append(args, "-b:a", p.AudioBitrate)
		}
	}
	return append(args, p.ExtraArgs...)
}

// PresetLibrary stores named presets.
type PresetLibrary struct {
	presets map[string]Preset
}

// DefaultPresetName is used when the configured preset is unknown.
const DefaultPresetName = "preview"

// DefaultPresets returns the built-in library.
func DefaultPresets() *PresetLibrary {
	return &PresetLibrary{presets: map[string]Preset{
		DefaultPresetName: {
			Name:         DefaultPresetName,
			VideoCodec:   "libx264",
			AudioCodec:   "aac",
			AudioBitrate: "128k",
			PixelFormat:  "yuv420p",
			ExtraArgs:    []string{"-preset", "veryfast", "-crf", "26", "-movflags", "+faststart"},
		},
	}}
}

// Get returns the named preset, falling back to the built-in preview preset.
func (l *PresetLibrary) Get(name string) Preset {
	if l != nil {
		if p, ok := l.presets[name]; ok {
			return p
		}
	}
	return DefaultPresets().presets[DefaultPresetName]
}

// LoadPresetFile reads presets from a YAML document of the form
//
//	presets:
//	  preview:
//	    video_codec: libx264
//	    extra_args: ["-crf", "28"]
func LoadPresetFile(path string) (*PresetLibrary, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("load preset file: %w", err)
	}
	var payload struct {
		Presets map[string]Preset `yaml:"presets"`
	}
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse preset file: %w", err)
	}
	lib := DefaultPresets()
	for name, p := range payload.Presets {
		p.Name = name
		lib.presets[name] = p
	}
	return lib, nil
}
