package gpt2

import "github.com/conneroisu/gpt/pkg/torch"

// GELU is the tanh approximation of the Gaussian error linear unit.
type GELU struct{}

// Forward applies GELU elementwise.
func (GELU) Forward(x *torch.Tensor, _ Mode) (*torch.Tensor, error) {
	out := torch.New(x.Shape...)
	out.Device = x.Device
	torch.GeluForward(out.Data, x.Data, x.Numel())
	return out, nil
}
