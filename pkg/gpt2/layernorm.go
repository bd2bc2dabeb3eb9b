package gpt2

import (
	"github.com/conneroisu/gpt/pkg/torch"
)

// LayerNorm normalizes every last-axis vector to zero mean and unit (biased)
// variance, then applies a learned scale and shift.
type LayerNorm struct {
	Scale *torch.Tensor // (dim), initialised to 1
	Shift *torch.Tensor // (dim), initialised to 0
}

// NewLayerNorm creates a LayerNorm over vectors of width dim.
func NewLayerNorm(dim int) *LayerNorm {
	return &LayerNorm{
		Scale: torch.Full(1, dim),
		Shift: torch.New(dim),
	}
}

// Forward normalizes (..., dim) and returns a tensor of the same shape.
func (ln *LayerNorm) Forward(x *torch.Tensor, _ Mode) (*torch.Tensor, error) {
	c := ln.Scale.Numel()
	if err := lastDim(x, 1, c, "layernorm"); err != nil {
		return nil, err
	}
	if err := torch.SameDevice(x, ln.Scale, ln.Shift); err != nil {
		return nil, err
	}
	out := torch.New(x.Shape...)
	out.Device = x.Device
	torch.LayernormForward(out.Data, nil, nil, x.Data, ln.Scale.Data, ln.Shift.Data, x.Numel()/c, c)
	return out, nil
}
