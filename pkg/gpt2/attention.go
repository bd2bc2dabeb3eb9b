package gpt2

import (
	"fmt"

	"github.com/conneroisu/gpt/pkg/torch"
	"golang.org/x/exp/rand"
)

// CausalSelfAttention is multi-head scaled dot-product attention where position i
// only sees positions j <= i.
//
// attention is the only layer that mixes information across time
// every other operation is applied at every (b,t) position independently
// (no layer mixes information across batches)
type CausalSelfAttention struct {
	Query   *Linear // (dOut, dIn)
	Key     *Linear // (dOut, dIn)
	Value   *Linear // (dOut, dIn)
	OutProj *Linear // (dOut, dOut)
	Dropout *Dropout

	NumHeads      int
	HeadDim       int
	ContextLength int

	mask  *torch.Tensor // (ContextLength, ContextLength), 1 where visible
	scale float32
}

// NewCausalSelfAttention creates an attention layer. dOut must be divisible by numHeads.
func NewCausalSelfAttention(dIn, dOut, numHeads, contextLength int, dropRate float32, qkvBias bool, r *rand.Rand) (*CausalSelfAttention, error) {
	if numHeads <= 0 || dOut%numHeads != 0 {
		return nil, fmt.Errorf("%w: d_out (%d) must be divisible by num_heads (%d)", ErrConfig, dOut, numHeads)
	}
	if contextLength <= 0 {
		return nil, fmt.Errorf("%w: context_length must be positive, got %d", ErrConfig, contextLength)
	}
	headDim := dOut / numHeads
	return &CausalSelfAttention{
		Query:         NewLinear(dIn, dOut, qkvBias, r),
		Key:           NewLinear(dIn, dOut, qkvBias, r),
		Value:         NewLinear(dIn, dOut, qkvBias, r),
		OutProj:       NewLinear(dOut, dOut, true, r),
		Dropout:       NewDropout(dropRate, r),
		NumHeads:      numHeads,
		HeadDim:       headDim,
		ContextLength: contextLength,
		mask:          torch.CausalMask(contextLength),
		scale:         1 / torch.Sqrt(float32(headDim)),
	}, nil
}

// Forward maps (B, T, dIn) to (B, T, dOut).
func (a *CausalSelfAttention) Forward(x *torch.Tensor, mode Mode) (*torch.Tensor, error) {
	out, _, err := a.forward(x, mode)
	return out, err
}

// AttentionWeights returns the post-softmax weights (B, H, T, T) of an inference pass.
func (a *CausalSelfAttention) AttentionWeights(x *torch.Tensor) (*torch.Tensor, error) {
	_, weights, err := a.forward(x, Inference)
	return weights, err
}

func (a *CausalSelfAttention) forward(x *torch.Tensor, mode Mode) (*torch.Tensor, *torch.Tensor, error) {
	if x.Rank() != 3 {
		return nil, nil, fmt.Errorf("%w: attention expects (batch, seq, dim) input, got shape %v", ErrShape, x.Shape)
	}
	B, T := x.Shape[0], x.Shape[1]
	if T > a.ContextLength {
		return nil, nil, fmt.Errorf("%w: sequence length %d exceeds context length %d", ErrShape, T, a.ContextLength)
	}
	H, hs := a.NumHeads, a.HeadDim

	q, err := a.Query.Forward(x, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("query: %w", err)
	}
	k, err := a.Key.Forward(x, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("key: %w", err)
	}
	v, err := a.Value.Forward(x, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("value: %w", err)
	}
	qh := splitHeads(q.Data, B, T, H, hs)
	kh := splitHeads(k.Data, B, T, H, hs)
	vh := splitHeads(v.Data, B, T, H, hs)

	// preatt[b][h][t1][t2] is the scaled dot product of query t1 and key t2.
	preatt := make([]float32, B*H*T*T)
	torch.BatchedMatmul(preatt, qh, kh, B*H, T, hs, T, true, a.scale)
	torch.MaskedFill(preatt, a.mask, T, torch.Inf(-1))

	weights := torch.New(B, H, T, T)
	weights.Device = x.Device
	torch.SoftmaxForward(weights.Data, preatt, B*H*T, T)
	dropped, err := a.Dropout.Forward(weights, mode)
	if err != nil {
		return nil, nil, err
	}

	// out = attention * values, then heads are merged back into the feature axis.
	atty := make([]float32, B*H*T*hs)
	torch.BatchedMatmul(atty, dropped.Data, vh, B*H, T, T, hs, false, 1)
	merged := torch.New(B, T, H*hs)
	merged.Device = x.Device
	mergeHeads(merged.Data, atty, B, T, H, hs)

	out, err := a.OutProj.Forward(merged, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("output projection: %w", err)
	}
	return out, weights, nil
}

// splitHeads reorders (B, T, H*hs) into (B, H, T, hs).
func splitHeads(src []float32, B, T, H, hs int) []float32 {
	dst := make([]float32, len(src))
	C := H * hs
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			for h := 0; h < H; h++ {
				copy(dst[((b*H+h)*T+t)*hs:((b*H+h)*T+t+1)*hs], src[b*T*C+t*C+h*hs:b*T*C+t*C+(h+1)*hs])
			}
		}
	}
	return dst
}

// mergeHeads reorders (B, H, T, hs) into (B, T, H*hs).
func mergeHeads(dst, src []float32, B, T, H, hs int) {
	C := H * hs
	for b := 0; b < B; b++ {
		for h := 0; h < H; h++ {
			for t := 0; t < T; t++ {
				copy(dst[b*T*C+t*C+h*hs:b*T*C+t*C+(h+1)*hs], src[((b*H+h)*T+t)*hs:((b*H+h)*T+t+1)*hs])
			}
		}
	}
}
