package gpt2

import (
	"context"
	"testing"

	"github.com/conneroisu/gpt/pkg/torch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultOptions() GenerateOptions {
	return GenerateOptions{
		MaxNewTokens: 5,
		ContextSize:  8,
		Temperature:  1.0,
		TopK:         10,
		EOS:          NoEOS,
	}
}

func TestGenerateLength(t *testing.T) {
	model := newTestModel(t, Tiny())
	prompt := []int32{1, 2, 3}
	out, err := NewGenerator(model, 1).Generate(context.Background(), prompt, defaultOptions())
	require.NoError(t, err)
	require.Len(t, out, 8)
	assert.Equal(t, []int32{1, 2, 3}, out[:3])
	assert.Equal(t, []int32{1, 2, 3}, prompt, "prompt must not be modified")
	for _, id := range out {
		assert.True(t, id >= 0 && id < 100)
	}
}

func TestGenerateBeyondContext(t *testing.T) {
	model := newTestModel(t, Tiny())
	prompt := []int32{5, 6, 7, 8, 9, 10, 11, 12, 13, 14}
	opts := defaultOptions()
	opts.MaxNewTokens = 6
	opts.ContextSize = 4
	out, err := NewGenerator(model, 1).Generate(context.Background(), prompt, opts)
	require.NoError(t, err)
	assert.Len(t, out, 16)
	assert.Equal(t, prompt, out[:10])
}

func TestGenerateIsSeeded(t *testing.T) {
	model := newTestModel(t, Tiny())
	opts := defaultOptions()
	opts.TopK = 100
	opts.MaxNewTokens = 8
	a, err := NewGenerator(model, 7).Generate(context.Background(), []int32{1}, opts)
	require.NoError(t, err)
	b, err := NewGenerator(model, 7).Generate(context.Background(), []int32{1}, opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTopKOneIsGreedy(t *testing.T) {
	model := newTestModel(t, Tiny())
	prompt := []int32{4, 2}
	greedy, err := NewGenerator(model, 0).GenerateGreedy(context.Background(), prompt, 6, 8, NoEOS)
	require.NoError(t, err)

	for _, temp := range []float64{1e-300, 1e-40, 0.1, 1, 10, 1000} {
		opts := defaultOptions()
		opts.MaxNewTokens = 6
		opts.TopK = 1
		opts.Temperature = temp
		out, err := NewGenerator(model, uint64(temp)).Generate(context.Background(), prompt, opts)
		require.NoError(t, err)
		assert.Equal(t, greedy, out, "temperature %g", temp)
	}
}

func TestTopKSamplesStayInTopK(t *testing.T) {
	model := newTestModel(t, Tiny())
	prompt := []int32{4, 2}
	ids, err := torch.IntFromSlice(append([]int32(nil), prompt...), 1, len(prompt))
	require.NoError(t, err)
	logits, err := model.Forward(ids)
	require.NoError(t, err)
	last := append([]float32(nil), logits.Row(0, len(prompt)-1)...)
	TopKFilter(last, 3)
	allowed := map[int32]bool{}
	for i, l := range last {
		if !torch.IsInf(l) {
			allowed[int32(i)] = true
		}
	}
	require.Len(t, allowed, 3)

	opts := defaultOptions()
	opts.MaxNewTokens = 1
	opts.TopK = 3
	opts.Temperature = 10
	seen := map[int32]bool{}
	for seed := uint64(0); seed < 60; seed++ {
		out, err := NewGenerator(model, seed).Generate(context.Background(), prompt, opts)
		require.NoError(t, err)
		assert.True(t, allowed[out[2]], "seed %d drew %d outside the top 3", seed, out[2])
		seen[out[2]] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestGenerateStopsOnEOS(t *testing.T) {
	model := newTestModel(t, Tiny())
	prompt := []int32{3}
	greedy, err := NewGenerator(model, 0).GenerateGreedy(context.Background(), prompt, 1, 8, NoEOS)
	require.NoError(t, err)
	eos := greedy[1]

	out, err := NewGenerator(model, 0).GenerateGreedy(context.Background(), prompt, 10, 8, eos)
	require.NoError(t, err)
	assert.Equal(t, []int32{3, eos}, out)
}

func TestGenerateZeroTokens(t *testing.T) {
	model := newTestModel(t, Tiny())
	opts := defaultOptions()
	opts.MaxNewTokens = 0
	out, err := NewGenerator(model, 0).Generate(context.Background(), []int32{1, 2}, opts)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2}, out)
}

func TestGenerateValidation(t *testing.T) {
	model := newTestModel(t, Tiny())
	tests := []struct {
		name   string
		prompt []int32
		mutate func(*GenerateOptions)
		err    error
	}{
		{"zero temperature", []int32{1}, func(o *GenerateOptions) { o.Temperature = 0 }, ErrSampling},
		{"negative temperature", []int32{1}, func(o *GenerateOptions) { o.Temperature = -1 }, ErrSampling},
		{"zero top k", []int32{1}, func(o *GenerateOptions) { o.TopK = 0 }, ErrSampling},
		{"top k above vocab", []int32{1}, func(o *GenerateOptions) { o.TopK = 101 }, ErrSampling},
		{"negative max tokens", []int32{1}, func(o *GenerateOptions) { o.MaxNewTokens = -1 }, ErrSampling},
		{"eos outside vocab", []int32{1}, func(o *GenerateOptions) { o.EOS = 100 }, ErrSampling},
		{"context above model", []int32{1}, func(o *GenerateOptions) { o.ContextSize = 9 }, ErrShape},
		{"zero context", []int32{1}, func(o *GenerateOptions) { o.ContextSize = 0 }, ErrShape},
		{"empty prompt", nil, func(*GenerateOptions) {}, ErrShape},
		{"prompt outside vocab", []int32{100}, func(*GenerateOptions) {}, ErrShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultOptions()
			tt.mutate(&opts)
			out, err := NewGenerator(model, 0).Generate(context.Background(), tt.prompt, opts)
			assert.ErrorIs(t, err, tt.err)
			assert.Nil(t, out)
		})
	}
}

func TestGenerateCancelled(t *testing.T) {
	model := newTestModel(t, Tiny())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGenerator(model, 0).Generate(ctx, []int32{1}, defaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTopKFilter(t *testing.T) {
	logits := []float32{1, 5, 3, 5}
	TopKFilter(logits, 2)
	assert.Equal(t, float32(5), logits[1])
	assert.Equal(t, float32(5), logits[3])
	assert.True(t, torch.IsInf(logits[0]))
	assert.True(t, torch.IsInf(logits[2]))

	logits = []float32{1, 5, 3, 5}
	TopKFilter(logits, 1)
	assert.Equal(t, 1, torch.Argmax(logits))
	assert.True(t, torch.IsInf(logits[3]), "exactly k entries survive")

	logits = []float32{1, 2}
	TopKFilter(logits, 2)
	assert.Equal(t, []float32{1, 2}, logits)
}
