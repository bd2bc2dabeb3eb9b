package gpt2

import (
	"github.com/conneroisu/gpt/pkg/torch"
	"golang.org/x/exp/rand"
)

// FeedForward is the position-wise MLP of a transformer block:
// expand to 4*dim, GELU, project back to dim.
type FeedForward struct {
	FC   *Linear // (4*dim, dim)
	Proj *Linear // (dim, 4*dim)
	seq  Sequential
}

// NewFeedForward creates a feed-forward block for width dim.
func NewFeedForward(dim int, r *rand.Rand) *FeedForward {
	ff := &FeedForward{
		FC:   NewLinear(dim, 4*dim, true, r),
		Proj: NewLinear(4*dim, dim, true, r),
	}
	ff.seq = Sequential{ff.FC, GELU{}, ff.Proj}
	return ff
}

// Forward maps (..., dim) to (..., dim) without mixing positions.
func (ff *FeedForward) Forward(x *torch.Tensor, mode Mode) (*torch.Tensor, error) {
	if err := lastDim(x, 1, ff.FC.In, "feedforward"); err != nil {
		return nil, err
	}
	return ff.seq.Forward(x, mode)
}
