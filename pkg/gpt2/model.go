package gpt2

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/conneroisu/gpt/pkg/torch"
	"golang.org/x/exp/rand"
)

// Options are construction-time settings that are not part of the architecture.
type Options struct {
	// Seed seeds parameter initialisation and dropout.
	Seed uint64
	// Device is where parameters and activations live.
	Device torch.Device
}

// Model is a decoder-only GPT language model.
//
// Parameters are read-only during Forward, so concurrent inference calls are safe.
// ForwardTrain draws dropout masks from the model's random source and must not run
// concurrently with other calls.
type Model struct {
	// Config is the configuration of the model.
	Config Config
	// TokEmb is the (VocabSize, EmbDim) token embedding table.
	TokEmb *Embedding
	// PosEmb is the (ContextLength, EmbDim) learned positional embedding table.
	PosEmb *Embedding
	// Drop is applied to the summed embeddings.
	Drop *Dropout
	// Blocks are the transformer layers in order.
	Blocks []*TransformerBlock
	// FinalNorm normalizes the output of the last block.
	FinalNorm *LayerNorm
	// OutHead projects EmbDim to VocabSize logits, without bias.
	OutHead *Linear

	trunk  Sequential
	device torch.Device
}

// NewModel builds a randomly initialised model. An invalid cfg is reported here,
// never at forward time.
func NewModel(cfg Config, opts Options) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Device.Available(); err != nil {
		return nil, err
	}
	r := rand.New(rand.NewSource(opts.Seed))
	model := &Model{
		Config:    cfg,
		TokEmb:    NewEmbedding(cfg.VocabSize, cfg.EmbDim, r),
		PosEmb:    NewEmbedding(cfg.ContextLength, cfg.EmbDim, r),
		Drop:      NewDropout(cfg.DropRate, r),
		Blocks:    make([]*TransformerBlock, cfg.NumLayers),
		FinalNorm: NewLayerNorm(cfg.EmbDim),
		OutHead:   NewLinear(cfg.EmbDim, cfg.VocabSize, false, r),
		device:    opts.Device,
	}
	for i := range model.Blocks {
		block, err := NewTransformerBlock(cfg, r)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		model.Blocks[i] = block
	}
	model.trunk = make(Sequential, 0, cfg.NumLayers+2)
	for _, block := range model.Blocks {
		model.trunk = append(model.trunk, block)
	}
	model.trunk = append(model.trunk, model.FinalNorm, model.OutHead)
	log.Debug("built model",
		"layers", cfg.NumLayers,
		"heads", cfg.NumHeads,
		"emb_dim", cfg.EmbDim,
		"params", model.NumParameters(),
		"device", opts.Device,
	)
	return model, nil
}

// Device returns the device the model was built for.
func (model *Model) Device() torch.Device {
	return model.device
}

// Forward computes logits (B, T, VocabSize) for token ids (B, T) in inference mode.
// T must be between 1 and ContextLength.
func (model *Model) Forward(ids *torch.IntTensor) (*torch.Tensor, error) {
	return model.forward(ids, Inference)
}

// ForwardTrain is Forward with dropout enabled.
func (model *Model) ForwardTrain(ids *torch.IntTensor) (*torch.Tensor, error) {
	return model.forward(ids, Training)
}

func (model *Model) forward(ids *torch.IntTensor, mode Mode) (*torch.Tensor, error) {
	if err := model.checkIDs(ids); err != nil {
		return nil, err
	}
	B, T, C := ids.Shape[0], ids.Shape[1], model.Config.EmbDim
	// Encode the word token embeddings with the positional embeddings
	// so that those vectors have spacial information and aren't just purely made up of the
	// token embeddings.
	x := torch.New(B, T, C)
	x.Device = model.device
	torch.EncoderForward(x.Data, ids.Data, model.TokEmb.Weight.Data, model.PosEmb.Weight.Data, B, T, C)
	x, err := model.Drop.Forward(x, mode)
	if err != nil {
		return nil, err
	}
	logits, err := model.trunk.Forward(x, mode)
	if err != nil {
		return nil, err
	}
	return logits, nil
}

func (model *Model) checkIDs(ids *torch.IntTensor) error {
	if ids.Rank() != 2 {
		return fmt.Errorf("%w: expected (batch, seq) token ids, got shape %v", ErrShape, ids.Shape)
	}
	if ids.Device != model.device {
		return fmt.Errorf("%w: token ids on %s, model on %s", torch.ErrDevice, ids.Device, model.device)
	}
	if ids.Shape[0] < 1 || ids.Shape[1] < 1 || len(ids.Data) != ids.Shape[0]*ids.Shape[1] {
		return fmt.Errorf("%w: token ids shape %v does not hold %d ids", ErrShape, ids.Shape, len(ids.Data))
	}
	if T := ids.Shape[1]; T > model.Config.ContextLength {
		return fmt.Errorf("%w: sequence length %d exceeds context length %d", ErrShape, T, model.Config.ContextLength)
	}
	for i, id := range ids.Data {
		if id < 0 || int(id) >= model.Config.VocabSize {
			return fmt.Errorf("%w: token id %d at index %d outside vocabulary of %d", ErrShape, id, i, model.Config.VocabSize)
		}
	}
	return nil
}

// Loss returns the mean cross-entropy of the next-token predictions for inputs
// against targets, both (B, T), computed in inference mode.
func (model *Model) Loss(inputs, targets *torch.IntTensor) (float32, error) {
	if targets.Rank() != 2 || inputs.Rank() != 2 ||
		targets.Shape[0] != inputs.Shape[0] || targets.Shape[1] != inputs.Shape[1] {
		return 0, fmt.Errorf("%w: targets %v do not match inputs %v", ErrShape, targets.Shape, inputs.Shape)
	}
	for i, id := range targets.Data {
		if id < 0 || int(id) >= model.Config.VocabSize {
			return 0, fmt.Errorf("%w: target id %d at index %d outside vocabulary of %d", ErrShape, id, i, model.Config.VocabSize)
		}
	}
	logits, err := model.Forward(inputs)
	if err != nil {
		return 0, err
	}
	B, T, V := inputs.Shape[0], inputs.Shape[1], model.Config.VocabSize
	losses := make([]float32, B*T)
	torch.CrossEntropyForward(losses, logits.Data, targets.Data, B, T, V)
	var meanLoss float32
	for _, l := range losses {
		meanLoss += l
	}
	return meanLoss / float32(B*T), nil
}

// Parameter is a named learnable tensor.
type Parameter struct {
	Name   string
	Tensor *torch.Tensor
}

// Parameters lists every learnable tensor in a stable order.
func (model *Model) Parameters() []Parameter {
	params := []Parameter{
		{"tok_emb.weight", model.TokEmb.Weight},
		{"pos_emb.weight", model.PosEmb.Weight},
	}
	linear := func(prefix string, l *Linear) {
		params = append(params, Parameter{prefix + ".weight", l.Weight})
		if l.Bias != nil {
			params = append(params, Parameter{prefix + ".bias", l.Bias})
		}
	}
	norm := func(prefix string, ln *LayerNorm) {
		params = append(params,
			Parameter{prefix + ".scale", ln.Scale},
			Parameter{prefix + ".shift", ln.Shift},
		)
	}
	for i, b := range model.Blocks {
		p := fmt.Sprintf("blocks.%d", i)
		norm(p+".norm1", b.Norm1)
		linear(p+".attn.query", b.Attn.Query)
		linear(p+".attn.key", b.Attn.Key)
		linear(p+".attn.value", b.Attn.Value)
		linear(p+".attn.out_proj", b.Attn.OutProj)
		norm(p+".norm2", b.Norm2)
		linear(p+".ff.fc", b.FF.FC)
		linear(p+".ff.proj", b.FF.Proj)
	}
	norm("final_norm", model.FinalNorm)
	linear("out_head", model.OutHead)
	return params
}

// NumParameters returns the total number of learnable scalars.
func (model *Model) NumParameters() int {
	n := 0
	for _, p := range model.Parameters() {
		n += p.Tensor.Numel()
	}
	return n
}
