package gpt2

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config is a configuration struct for the GPT model.
type Config struct {
	// VocabSize is the size of the vocabulary.
	VocabSize int `yaml:"vocab_size"`
	// EmbDim is the width of every token representation.
	EmbDim int `yaml:"emb_dim"`
	// ContextLength is the maximum sequence length for the model.
	ContextLength int `yaml:"context_length"`
	// NumHeads is the number of attention heads in each layer.
	NumHeads int `yaml:"num_heads"`
	// NumLayers is the number of transformer blocks.
	NumLayers int `yaml:"num_layers"`
	// DropRate is the dropout probability used in training mode.
	DropRate float32 `yaml:"drop_rate"`
	// QKVBias controls whether the query/key/value projections carry a bias.
	QKVBias bool `yaml:"qkv_bias"`
}

// Validate checks that the configuration describes a buildable model.
func (c Config) Validate() error {
	switch {
	case c.VocabSize <= 0:
		return fmt.Errorf("%w: vocab_size must be positive, got %d", ErrConfig, c.VocabSize)
	case c.EmbDim <= 0:
		return fmt.Errorf("%w: emb_dim must be positive, got %d", ErrConfig, c.EmbDim)
	case c.ContextLength <= 0:
		return fmt.Errorf("%w: context_length must be positive, got %d", ErrConfig, c.ContextLength)
	case c.NumHeads <= 0:
		return fmt.Errorf("%w: num_heads must be positive, got %d", ErrConfig, c.NumHeads)
	case c.NumLayers <= 0:
		return fmt.Errorf("%w: num_layers must be positive, got %d", ErrConfig, c.NumLayers)
	case c.EmbDim%c.NumHeads != 0:
		return fmt.Errorf("%w: emb_dim (%d) must be divisible by num_heads (%d)", ErrConfig, c.EmbDim, c.NumHeads)
	case c.DropRate < 0 || c.DropRate >= 1:
		return fmt.Errorf("%w: drop_rate must be in [0, 1), got %g", ErrConfig, c.DropRate)
	}
	return nil
}

// HeadDim returns the per-head feature width.
func (c Config) HeadDim() int {
	return c.EmbDim / c.NumHeads
}

// GPT2Small is the 124M parameter GPT-2 layout with a 256 token context.
func GPT2Small() Config {
	return Config{
		VocabSize:     50257,
		EmbDim:        768,
		ContextLength: 256,
		NumHeads:      12,
		NumLayers:     12,
		DropRate:      0.1,
		QKVBias:       false,
	}
}

// GPT2Medium is the 355M parameter GPT-2 layout.
func GPT2Medium() Config {
	return Config{
		VocabSize:     50257,
		EmbDim:        1024,
		ContextLength: 1024,
		NumHeads:      16,
		NumLayers:     24,
		DropRate:      0.1,
		QKVBias:       false,
	}
}

// Tiny is a small configuration for demos and tests.
func Tiny() Config {
	return Config{
		VocabSize:     100,
		EmbDim:        16,
		ContextLength: 8,
		NumHeads:      4,
		NumLayers:     2,
		DropRate:      0.1,
		QKVBias:       false,
	}
}

var presets = map[string]func() Config{
	"gpt2-small":  GPT2Small,
	"gpt2-medium": GPT2Medium,
	"tiny":        Tiny,
}

// Preset returns the named configuration.
func Preset(name string) (Config, error) {
	p, ok := presets[name]
	if !ok {
		return Config{}, fmt.Errorf("%w: unknown preset %q (have %v)", ErrConfig, name, PresetNames())
	}
	return p(), nil
}

// PresetNames lists the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadConfig reads a YAML model configuration and validates it.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(raw)
}

// ParseConfig decodes a YAML model configuration and validates it.
func ParseConfig(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
