package gpt2

import (
	"fmt"

	"github.com/conneroisu/gpt/pkg/torch"
	"golang.org/x/exp/rand"
)

// TransformerBlock is a pre-norm transformer layer:
//
//	x' = x + dropout(attn(norm1(x)))
//	out = x' + dropout(ff(norm2(x')))
type TransformerBlock struct {
	Norm1 *LayerNorm
	Attn  *CausalSelfAttention
	Norm2 *LayerNorm
	FF    *FeedForward
	Drop  *Dropout
}

// NewTransformerBlock creates a block from cfg.
func NewTransformerBlock(cfg Config, r *rand.Rand) (*TransformerBlock, error) {
	attn, err := NewCausalSelfAttention(cfg.EmbDim, cfg.EmbDim, cfg.NumHeads, cfg.ContextLength, cfg.DropRate, cfg.QKVBias, r)
	if err != nil {
		return nil, err
	}
	return &TransformerBlock{
		Norm1: NewLayerNorm(cfg.EmbDim),
		Attn:  attn,
		Norm2: NewLayerNorm(cfg.EmbDim),
		FF:    NewFeedForward(cfg.EmbDim, r),
		Drop:  NewDropout(cfg.DropRate, r),
	}, nil
}

// Forward maps (B, T, dim) to (B, T, dim).
func (b *TransformerBlock) Forward(x *torch.Tensor, mode Mode) (*torch.Tensor, error) {
	h, err := b.branch(x, b.Norm1, b.Attn, mode)
	if err != nil {
		return nil, fmt.Errorf("attention branch: %w", err)
	}
	x, err = residual(x, h)
	if err != nil {
		return nil, err
	}
	// the feed-forward branch reads the post-attention residual, not the block input
	h, err = b.branch(x, b.Norm2, b.FF, mode)
	if err != nil {
		return nil, fmt.Errorf("feed-forward branch: %w", err)
	}
	return residual(x, h)
}

func (b *TransformerBlock) branch(x *torch.Tensor, norm *LayerNorm, sub Layer, mode Mode) (*torch.Tensor, error) {
	return Sequential{norm, sub, b.Drop}.Forward(x, mode)
}
