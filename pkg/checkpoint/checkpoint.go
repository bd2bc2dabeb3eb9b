// Package checkpoint reads and writes GPT models in the llm.c fp32 checkpoint format.
package checkpoint

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/conneroisu/gpt/pkg/gpt2"
)

const (
	magic      = 20240326
	version    = 1
	headerSize = 256
)

// ErrHeader is returned for a checkpoint whose header is not a version 1 llm.c header.
var ErrHeader = errors.New("invalid checkpoint header")

// Load reads a checkpoint file.
func Load(path string, opts gpt2.Options) (*gpt2.Model, error) {
	if path == "" {
		return nil, fmt.Errorf("checkpoint file path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint: %w", err)
	}
	defer f.Close()
	return Read(bufio.NewReader(f), opts)
}

// Read decodes a checkpoint. The header holds, after magic and version, the
// context length, vocabulary size, layer count, head count and embedding width.
// The output head is tied to the token embedding, so it is not stored.
func Read(r io.Reader, opts gpt2.Options) (*gpt2.Model, error) {
	header := make([]int32, headerSize)
	if err := binary.Read(r, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if header[0] != magic || header[1] != version {
		return nil, fmt.Errorf("%w: magic %d version %d", ErrHeader, header[0], header[1])
	}
	cfg := gpt2.Config{
		ContextLength: int(header[2]),
		VocabSize:     int(header[3]),
		NumLayers:     int(header[4]),
		NumHeads:      int(header[5]),
		EmbDim:        int(header[6]),
		QKVBias:       true,
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHeader, err)
	}
	log.Debug("reading checkpoint",
		"max_seq_len", cfg.ContextLength,
		"vocab_size", cfg.VocabSize,
		"num_layers", cfg.NumLayers,
		"num_heads", cfg.NumHeads,
		"channels", cfg.EmbDim,
	)
	var params parameterTensors
	params.Init(cfg.VocabSize, cfg.EmbDim, cfg.ContextLength, cfg.NumLayers)
	if err := binary.Read(r, binary.LittleEndian, params.Memory); err != nil {
		return nil, fmt.Errorf("reading parameters: %w", err)
	}
	model, err := gpt2.NewModel(cfg, opts)
	if err != nil {
		return nil, err
	}
	C := cfg.EmbDim
	copy(model.TokEmb.Weight.Data, params.WordTokEmbed.data)
	copy(model.PosEmb.Weight.Data, params.WordPosEmbed.data)
	for l, b := range model.Blocks {
		copy(b.Norm1.Scale.Data, params.LayerNorm1W.layer(l))
		copy(b.Norm1.Shift.Data, params.LayerNorm1B.layer(l))
		qkvW, qkvB := params.QueryKeyValW.layer(l), params.QueryKeyValB.layer(l)
		for i, lin := range []*gpt2.Linear{b.Attn.Query, b.Attn.Key, b.Attn.Value} {
			copy(lin.Weight.Data, qkvW[i*C*C:(i+1)*C*C])
			copy(lin.Bias.Data, qkvB[i*C:(i+1)*C])
		}
		copy(b.Attn.OutProj.Weight.Data, params.AttProjW.layer(l))
		copy(b.Attn.OutProj.Bias.Data, params.AttProjB.layer(l))
		copy(b.Norm2.Scale.Data, params.Layer2NormW.layer(l))
		copy(b.Norm2.Shift.Data, params.Layer2NormB.layer(l))
		copy(b.FF.FC.Weight.Data, params.FeedFwdW.layer(l))
		copy(b.FF.FC.Bias.Data, params.FeedFwdB.layer(l))
		copy(b.FF.Proj.Weight.Data, params.FeedFwdProjW.layer(l))
		copy(b.FF.Proj.Bias.Data, params.FeedFwdProjB.layer(l))
	}
	copy(model.FinalNorm.Scale.Data, params.LayerFinNormW.data)
	copy(model.FinalNorm.Shift.Data, params.LayerFinNormB.data)
	copy(model.OutHead.Weight.Data, params.WordTokEmbed.data)
	return model, nil
}

// Save writes model to a checkpoint file.
func Save(path string, model *gpt2.Model) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating checkpoint: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := Write(w, model); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write encodes model. Missing query, key and value biases are written as zeros.
// Only the token embedding is stored for the tied output head.
func Write(w io.Writer, model *gpt2.Model) error {
	cfg := model.Config
	if !slices.Equal(model.OutHead.Weight.Data, model.TokEmb.Weight.Data) {
		log.Warn("output head is not tied to the token embedding; it will not be saved")
	}
	header := make([]int32, headerSize)
	header[0], header[1] = magic, version
	header[2] = int32(cfg.ContextLength)
	header[3] = int32(cfg.VocabSize)
	header[4] = int32(cfg.NumLayers)
	header[5] = int32(cfg.NumHeads)
	header[6] = int32(cfg.EmbDim)
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	var params parameterTensors
	params.Init(cfg.VocabSize, cfg.EmbDim, cfg.ContextLength, cfg.NumLayers)
	C := cfg.EmbDim
	copy(params.WordTokEmbed.data, model.TokEmb.Weight.Data)
	copy(params.WordPosEmbed.data, model.PosEmb.Weight.Data)
	for l, b := range model.Blocks {
		copy(params.LayerNorm1W.layer(l), b.Norm1.Scale.Data)
		copy(params.LayerNorm1B.layer(l), b.Norm1.Shift.Data)
		qkvW, qkvB := params.QueryKeyValW.layer(l), params.QueryKeyValB.layer(l)
		for i, lin := range []*gpt2.Linear{b.Attn.Query, b.Attn.Key, b.Attn.Value} {
			copy(qkvW[i*C*C:(i+1)*C*C], lin.Weight.Data)
			if lin.Bias != nil {
				copy(qkvB[i*C:(i+1)*C], lin.Bias.Data)
			}
		}
		copy(params.AttProjW.layer(l), b.Attn.OutProj.Weight.Data)
		copy(params.AttProjB.layer(l), b.Attn.OutProj.Bias.Data)
		copy(params.Layer2NormW.layer(l), b.Norm2.Scale.Data)
		copy(params.Layer2NormB.layer(l), b.Norm2.Shift.Data)
		copy(params.FeedFwdW.layer(l), b.FF.FC.Weight.Data)
		copy(params.FeedFwdB.layer(l), b.FF.FC.Bias.Data)
		copy(params.FeedFwdProjW.layer(l), b.FF.Proj.Weight.Data)
		copy(params.FeedFwdProjB.layer(l), b.FF.Proj.Bias.Data)
	}
	copy(params.LayerFinNormW.data, model.FinalNorm.Scale.Data)
	copy(params.LayerFinNormB.data, model.FinalNorm.Shift.Data)
	if err := binary.Write(w, binary.LittleEndian, params.Memory); err != nil {
		return fmt.Errorf("writing parameters: %w", err)
	}
	return nil
}
