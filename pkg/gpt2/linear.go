package gpt2

import (
	"math"

	"github.com/conneroisu/gpt/pkg/torch"
	"golang.org/x/exp/rand"
)

// Linear is an affine projection y = x @ Weightᵀ + Bias over the last axis.
type Linear struct {
	Weight *torch.Tensor // (out, in)
	Bias   *torch.Tensor // (out), nil when the layer has no bias
	In     int
	Out    int
}

// NewLinear creates a linear layer with weights and bias drawn from
// U(-1/sqrt(in), 1/sqrt(in)).
func NewLinear(in, out int, bias bool, r *rand.Rand) *Linear {
	bound := 1 / math.Sqrt(float64(in))
	l := &Linear{
		Weight: torch.New(out, in),
		In:     in,
		Out:    out,
	}
	uniformInit(l.Weight, bound, r)
	if bias {
		l.Bias = torch.New(out)
		uniformInit(l.Bias, bound, r)
	}
	return l
}

// Forward projects (..., in) to (..., out).
func (l *Linear) Forward(x *torch.Tensor, _ Mode) (*torch.Tensor, error) {
	if err := lastDim(x, 1, l.In, "linear"); err != nil {
		return nil, err
	}
	if err := torch.SameDevice(x, l.Weight); err != nil {
		return nil, err
	}
	shape := append([]int(nil), x.Shape...)
	shape[len(shape)-1] = l.Out
	out := torch.New(shape...)
	out.Device = x.Device
	var bias []float32
	if l.Bias != nil {
		bias = l.Bias.Data
	}
	torch.MatmulForward(out.Data, x.Data, l.Weight.Data, bias, x.Numel()/l.In, l.In, l.Out)
	return out, nil
}

// Embedding is a lookup table of Num vectors of width Dim.
type Embedding struct {
	Weight *torch.Tensor // (num, dim)
	Num    int
	Dim    int
}

// NewEmbedding creates an embedding table drawn from N(0, 0.02²).
func NewEmbedding(num, dim int, r *rand.Rand) *Embedding {
	e := &Embedding{Weight: torch.New(num, dim), Num: num, Dim: dim}
	for i := range e.Weight.Data {
		e.Weight.Data[i] = float32(r.NormFloat64() * 0.02)
	}
	return e
}

func uniformInit(t *torch.Tensor, bound float64, r *rand.Rand) {
	for i := range t.Data {
		t.Data[i] = float32((r.Float64()*2 - 1) * bound)
	}
}
