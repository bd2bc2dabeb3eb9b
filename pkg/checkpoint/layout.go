package checkpoint

// tensor is a window into the checkpoint's parameter memory.
type tensor struct {
	data []float32
	dims []int
}

// newTensor takes the first prod(dims) values of data and reports how many it used.
func newTensor(data []float32, dims ...int) (tensor, int) {
	s := 1
	for _, d := range dims {
		s *= d
	}
	if s > len(data) {
		panic("dimensions larger than supplied data")
	}
	return tensor{data: data[:s], dims: dims}, s
}

// parameterTensors is the llm.c GPT-2 parameter layout: one contiguous block,
// with each transformer weight stacked over layers.
type parameterTensors struct {
	Memory        []float32
	WordTokEmbed  tensor // (V, C)
	WordPosEmbed  tensor // (maxT, C)
	LayerNorm1W   tensor // (L, C)
	LayerNorm1B   tensor // (L, C)
	QueryKeyValW  tensor // (L, 3*C, C) query, key and value rows stacked
	QueryKeyValB  tensor // (L, 3*C)
	AttProjW      tensor // (L, C, C)
	AttProjB      tensor // (L, C)
	Layer2NormW   tensor // (L, C)
	Layer2NormB   tensor // (L, C)
	FeedFwdW      tensor // (L, 4*C, C)
	FeedFwdB      tensor // (L, 4*C)
	FeedFwdProjW  tensor // (L, C, 4*C)
	FeedFwdProjB  tensor // (L, C)
	LayerFinNormW tensor // (C)
	LayerFinNormB tensor // (C)
}

// numParameters is the length of the parameter block for the given sizes.
func numParameters(V, C, maxSeqLen, L int) int {
	return V*C + maxSeqLen*C + 12*L*C*C + 13*L*C + 2*C
}

// Init allocates Memory and slices it into the named tensors.
func (p *parameterTensors) Init(V, C, maxSeqLen, L int) {
	p.Memory = make([]float32, numParameters(V, C, maxSeqLen, L))
	var ptr int
	mem := p.Memory
	next := func(dims ...int) tensor {
		var t tensor
		t, ptr = newTensor(mem, dims...)
		mem = mem[ptr:]
		return t
	}
	p.WordTokEmbed = next(V, C)
	p.WordPosEmbed = next(maxSeqLen, C)
	p.LayerNorm1W = next(L, C)
	p.LayerNorm1B = next(L, C)
	p.QueryKeyValW = next(L, 3*C, C)
	p.QueryKeyValB = next(L, 3*C)
	p.AttProjW = next(L, C, C)
	p.AttProjB = next(L, C)
	p.Layer2NormW = next(L, C)
	p.Layer2NormB = next(L, C)
	p.FeedFwdW = next(L, 4*C, C)
	p.FeedFwdB = next(L, 4*C)
	p.FeedFwdProjW = next(L, C, 4*C)
	p.FeedFwdProjB = next(L, C)
	p.LayerFinNormW = next(C)
	p.LayerFinNormB = next(C)
	if len(mem) != 0 {
		panic("parameter layout does not cover memory")
	}
}

// layer returns the l-th slab of a tensor stacked over layers.
func (t tensor) layer(l int) []float32 {
	n := len(t.data) / t.dims[0]
	return t.data[l*n : (l+1)*n]
}
