package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"voxelshare.dev/internal/sim/chunks"
	"voxelshare.dev/internal/sim/terrain"
)

// Tuning is the world configuration loaded from tuning.yaml. The noise
// constants are compiled in; the file may restate them but must not change
// them, since every peer has to agree on terrain.
type Tuning struct {
	ChunkSize      int     `yaml:"chunk_size"`
	RenderDistance int     `yaml:"render_distance"`
	NoiseScale     float64 `yaml:"noise_scale"`
	NoiseAmplitude int     `yaml:"noise_amplitude"`

	// PlayerBox is the requester's bounding box (width, height, depth) used to
	// reject placements that would seal a player inside a block.
	PlayerBox [3]float64 `yaml:"player_box"`

	// ClientQueue is the per-connection outbound buffer. A client whose queue
	// overflows is disconnected.
	ClientQueue int `yaml:"client_queue"`
	InboxSize   int `yaml:"inbox_size"`

	MetricsEveryMs int `yaml:"metrics_every_ms"`
}

func Defaults() Tuning {
	return Tuning{
		ChunkSize:      chunks.DefaultChunkSize,
		RenderDistance: chunks.DefaultRenderDistance,
		NoiseScale:     terrain.Scale,
		NoiseAmplitude: terrain.Amplitude,
		PlayerBox:      [3]float64{0.8, 1.8, 0.8},
		ClientQueue:    256,
		InboxSize:      1024,
		MetricsEveryMs: 1000,
	}
}

// Load reads path over Defaults. Missing keys keep their default value.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be > 0 (got %d)", t.ChunkSize)
	}
	if t.RenderDistance < 0 {
		return fmt.Errorf("render_distance must be >= 0 (got %d)", t.RenderDistance)
	}
	if t.NoiseScale != terrain.Scale {
		return fmt.Errorf("noise_scale %v differs from compiled %v", t.NoiseScale, terrain.Scale)
	}
	if t.NoiseAmplitude != terrain.Amplitude {
		return fmt.Errorf("noise_amplitude %d differs from compiled %d", t.NoiseAmplitude, terrain.Amplitude)
	}
	for i, v := range t.PlayerBox {
		if v <= 0 {
			return fmt.Errorf("player_box[%d] must be > 0 (got %v)", i, v)
		}
	}
	if t.ClientQueue <= 0 {
		return fmt.Errorf("client_queue must be > 0 (got %d)", t.ClientQueue)
	}
	if t.InboxSize <= 0 {
		return fmt.Errorf("inbox_size must be > 0 (got %d)", t.InboxSize)
	}
	return nil
}
