package gpt2

import (
	"fmt"

	"github.com/conneroisu/gpt/pkg/torch"
)

// Mode selects between inference and training behaviour of a forward pass.
type Mode int

const (
	// Inference disables dropout. It is the default.
	Inference Mode = iota
	// Training enables dropout.
	Training
)

// String returns the mode name.
func (m Mode) String() string {
	if m == Training {
		return "training"
	}
	return "inference"
}

// Layer is anything that maps one activation tensor to another.
type Layer interface {
	Forward(x *torch.Tensor, mode Mode) (*torch.Tensor, error)
}

// Sequential runs layers in order, feeding each output into the next layer.
type Sequential []Layer

// Forward runs every layer in order.
func (s Sequential) Forward(x *torch.Tensor, mode Mode) (*torch.Tensor, error) {
	var err error
	for i, l := range s {
		x, err = l.Forward(x, mode)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return x, nil
}

// residual returns a + b as a new tensor.
func residual(a, b *torch.Tensor) (*torch.Tensor, error) {
	if len(a.Data) != len(b.Data) {
		return nil, fmt.Errorf("%w: residual operands %v and %v", ErrShape, a.Shape, b.Shape)
	}
	if err := torch.SameDevice(a, b); err != nil {
		return nil, err
	}
	out := torch.New(a.Shape...)
	out.Device = a.Device
	torch.ResidualForward(out.Data, a.Data, b.Data, len(a.Data))
	return out, nil
}

// lastDim checks that x has rank at least minRank and a last dimension of want.
func lastDim(x *torch.Tensor, minRank, want int, who string) error {
	if x.Rank() < minRank {
		return fmt.Errorf("%w: %s expects rank >= %d input, got shape %v", ErrShape, who, minRank, x.Shape)
	}
	if got := x.Dim(-1); got != want {
		return fmt.Errorf("%w: %s expects last dimension %d, got %d", ErrShape, who, want, got)
	}
	return nil
}
