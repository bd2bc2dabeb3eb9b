package checkpoint

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/conneroisu/gpt/pkg/gpt2"
	"github.com/conneroisu/gpt/pkg/torch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tiedModel(t *testing.T, qkvBias bool) *gpt2.Model {
	t.Helper()
	cfg := gpt2.Tiny()
	cfg.QKVBias = qkvBias
	model, err := gpt2.NewModel(cfg, gpt2.Options{Seed: 7})
	require.NoError(t, err)
	copy(model.OutHead.Weight.Data, model.TokEmb.Weight.Data)
	return model
}

func forward(t *testing.T, model *gpt2.Model) *torch.Tensor {
	t.Helper()
	ids, err := torch.IntFromSlice([]int32{1, 5, 9, 42, 99, 0}, 2, 3)
	require.NoError(t, err)
	logits, err := model.Forward(ids)
	require.NoError(t, err)
	return logits
}

func TestWriteReadRoundTrip(t *testing.T) {
	model := tiedModel(t, true)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, model))
	cfg := model.Config
	assert.Equal(t, 4*(headerSize+numParameters(cfg.VocabSize, cfg.EmbDim, cfg.ContextLength, cfg.NumLayers)), buf.Len())

	read, err := Read(&buf, gpt2.Options{Seed: 99})
	require.NoError(t, err)
	want := cfg
	want.DropRate = 0
	assert.Equal(t, want, read.Config)

	got := read.Parameters()
	require.Len(t, got, len(model.Parameters()))
	for i, p := range model.Parameters() {
		assert.Equal(t, p.Name, got[i].Name)
		assert.Equal(t, p.Tensor.Data, got[i].Tensor.Data, p.Name)
	}
	assert.Equal(t, forward(t, model).Data, forward(t, read).Data)
}

func TestWriteWithoutQKVBias(t *testing.T) {
	model := tiedModel(t, false)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, model))

	read, err := Read(&buf, gpt2.Options{})
	require.NoError(t, err)
	for _, b := range read.Blocks {
		for _, v := range b.Attn.Query.Bias.Data {
			assert.Equal(t, float32(0), v)
		}
	}
	want := forward(t, model).Data
	got := forward(t, read).Data
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-5)
	}
}

func TestReadBadHeader(t *testing.T) {
	header := make([]int32, headerSize)
	header[0], header[1] = magic, 3
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, header))
	_, err := Read(&buf, gpt2.Options{})
	assert.ErrorIs(t, err, ErrHeader)

	// emb_dim not divisible by num_heads
	header[1] = version
	header[2], header[3], header[4], header[5], header[6] = 8, 10, 1, 3, 16
	buf.Reset()
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, header))
	_, err = Read(&buf, gpt2.Options{})
	assert.ErrorIs(t, err, ErrHeader)
	assert.ErrorIs(t, err, gpt2.ErrConfig)
}

func TestReadTruncated(t *testing.T) {
	model := tiedModel(t, true)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, model))
	_, err := Read(bytes.NewReader(buf.Bytes()[:buf.Len()-4]), gpt2.Options{})
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	model := tiedModel(t, true)
	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, Save(path, model))

	loaded, err := Load(path, gpt2.Options{})
	require.NoError(t, err)
	assert.Equal(t, model.NumParameters(), loaded.NumParameters())

	_, err = Load(filepath.Join(t.TempDir(), "missing.bin"), gpt2.Options{})
	assert.Error(t, err)
	_, err = Load("", gpt2.Options{})
	assert.Error(t, err)
}

func TestParameterLayout(t *testing.T) {
	var p parameterTensors
	p.Init(10, 4, 3, 2)
	assert.Len(t, p.Memory, numParameters(10, 4, 3, 2))
	assert.Equal(t, []int{2, 12, 4}, p.QueryKeyValW.dims)
	assert.Len(t, p.QueryKeyValW.layer(1), 48)
	p.LayerFinNormB.data[3] = 1
	assert.Equal(t, float32(1), p.Memory[len(p.Memory)-1])
}
