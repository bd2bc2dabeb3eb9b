package gpt2

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/conneroisu/gpt/pkg/torch"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// NoEOS disables stopping on an end-of-sequence token.
const NoEOS int32 = -1

// GenerateOptions controls autoregressive sampling.
type GenerateOptions struct {
	// MaxNewTokens is the number of tokens to append.
	MaxNewTokens int
	// ContextSize is how many trailing tokens are fed to the model each step.
	ContextSize int
	// Temperature divides the logits before the softmax. Must be > 0.
	Temperature float64
	// TopK keeps only the K most likely tokens. Must be in [1, VocabSize].
	TopK int
	// EOS stops generation once drawn (it is still appended). NoEOS disables it.
	EOS int32
}

// Generator extends token sequences with a model. It owns its random source,
// so a Generator must not be shared between goroutines.
type Generator struct {
	model *Model
	src   rand.Source
}

// NewGenerator returns a generator drawing samples from a source seeded with seed.
func NewGenerator(model *Model, seed uint64) *Generator {
	return &Generator{model: model, src: rand.NewSource(seed)}
}

// Generate appends up to opts.MaxNewTokens sampled tokens to prompt and returns
// the extended sequence. prompt is not modified.
func (g *Generator) Generate(ctx context.Context, prompt []int32, opts GenerateOptions) ([]int32, error) {
	if err := g.validate(prompt, opts.MaxNewTokens, opts.ContextSize, opts.EOS); err != nil {
		return nil, err
	}
	if math.IsNaN(opts.Temperature) || math.IsInf(opts.Temperature, 0) || opts.Temperature <= 0 {
		return nil, fmt.Errorf("%w: temperature must be a positive number, got %g", ErrSampling, opts.Temperature)
	}
	if opts.TopK <= 0 || opts.TopK > g.model.Config.VocabSize {
		return nil, fmt.Errorf("%w: top_k must be in [1, %d], got %d", ErrSampling, g.model.Config.VocabSize, opts.TopK)
	}
	return g.run(ctx, prompt, opts.MaxNewTokens, opts.ContextSize, opts.EOS, func(logits []float32) int32 {
		return g.sample(logits, opts.Temperature, opts.TopK)
	})
}

// GenerateGreedy appends maxNewTokens arg-max tokens to prompt.
func (g *Generator) GenerateGreedy(ctx context.Context, prompt []int32, maxNewTokens, contextSize int, eos int32) ([]int32, error) {
	if err := g.validate(prompt, maxNewTokens, contextSize, eos); err != nil {
		return nil, err
	}
	return g.run(ctx, prompt, maxNewTokens, contextSize, eos, func(logits []float32) int32 {
		return int32(torch.Argmax(logits))
	})
}

func (g *Generator) validate(prompt []int32, maxNewTokens, contextSize int, eos int32) error {
	cfg := g.model.Config
	switch {
	case len(prompt) == 0:
		return fmt.Errorf("%w: prompt must contain at least one token", ErrShape)
	case maxNewTokens < 0:
		return fmt.Errorf("%w: max_new_tokens must not be negative, got %d", ErrSampling, maxNewTokens)
	case contextSize <= 0 || contextSize > cfg.ContextLength:
		return fmt.Errorf("%w: context_size must be in [1, %d], got %d", ErrShape, cfg.ContextLength, contextSize)
	case eos != NoEOS && (eos < 0 || int(eos) >= cfg.VocabSize):
		return fmt.Errorf("%w: eos token %d outside vocabulary of %d", ErrSampling, eos, cfg.VocabSize)
	}
	for i, id := range prompt {
		if id < 0 || int(id) >= cfg.VocabSize {
			return fmt.Errorf("%w: prompt token %d at index %d outside vocabulary of %d", ErrShape, id, i, cfg.VocabSize)
		}
	}
	return nil
}

func (g *Generator) run(ctx context.Context, prompt []int32, maxNewTokens, contextSize int, eos int32, next func([]float32) int32) ([]int32, error) {
	current := make([]int32, len(prompt), len(prompt)+maxNewTokens)
	copy(current, prompt)
	V := g.model.Config.VocabSize
	for step := 0; step < maxNewTokens; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		window := current[max(0, len(current)-contextSize):]
		ids, err := torch.IntFromSlice(window, 1, len(window))
		if err != nil {
			return nil, err
		}
		ids.Device = g.model.Device()
		logits, err := g.model.Forward(ids)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", step, err)
		}
		// only the last position predicts the next token
		last := append([]float32(nil), logits.Data[(len(window)-1)*V:len(window)*V]...)
		id := next(last)
		current = append(current, id)
		log.Debug("generated token", "step", step, "id", id, "window", len(window))
		if eos != NoEOS && id == eos {
			break
		}
	}
	return current, nil
}

// sample draws a token id from logits after top-k filtering and temperature scaling.
// logits is modified.
func (g *Generator) sample(logits []float32, temperature float64, k int) int32 {
	TopKFilter(logits, k)
	// shift so the best surviving logit is 0; the quotient then cannot overflow
	best := float64(logits[torch.Argmax(logits)])
	weights := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		if torch.IsInf(l) {
			continue
		}
		weights[i] = math.Exp((float64(l) - best) / temperature)
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}
	return int32(distuv.NewCategorical(weights, g.src).Rand())
}

// TopKFilter keeps the k largest logits and sets every other entry to -Inf.
// Exactly k entries survive; among equal values the lower index wins.
func TopKFilter(logits []float32, k int) {
	if k >= len(logits) {
		return
	}
	order := make([]int, len(logits))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return logits[order[a]] > logits[order[b]]
	})
	for _, i := range order[k:] {
		logits[i] = torch.Inf(-1)
	}
}
