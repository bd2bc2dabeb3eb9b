package gpt2

import (
	"github.com/conneroisu/gpt/pkg/torch"
	"golang.org/x/exp/rand"
)

// Dropout zeroes activations with probability P in training mode and is the
// identity in inference mode.
type Dropout struct {
	P   float32
	rng *rand.Rand
}

// NewDropout returns a dropout layer drawing from r.
func NewDropout(p float32, r *rand.Rand) *Dropout {
	return &Dropout{P: p, rng: r}
}

// Forward applies inverted dropout when mode is Training.
func (d *Dropout) Forward(x *torch.Tensor, mode Mode) (*torch.Tensor, error) {
	if mode != Training || d.P == 0 {
		return x, nil
	}
	out := torch.New(x.Shape...)
	out.Device = x.Device
	torch.DropoutForward(out.Data, x.Data, d.P, d.rng)
	return out, nil
}
