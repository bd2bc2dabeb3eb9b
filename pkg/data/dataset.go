package data

import (
	"fmt"

	"github.com/conneroisu/gpt/pkg/torch"
)

// Dataset holds overlapping input/target windows cut from a token stream.
// Window i starts at i*stride; its target is the same window shifted by one.
type Dataset struct {
	inputs  [][]int32
	targets [][]int32
}

// NewDataset slides a window of maxLength tokens over tokens with the given stride.
func NewDataset(tokens []int32, maxLength, stride int) (*Dataset, error) {
	if maxLength <= 0 || stride <= 0 {
		return nil, fmt.Errorf("max length and stride must be positive, got %d and %d", maxLength, stride)
	}
	if len(tokens) < maxLength+1 {
		return nil, fmt.Errorf("%w: have %d, need %d for max length %d", ErrTooSmall, len(tokens), maxLength+1, maxLength)
	}
	ds := &Dataset{}
	for i := 0; i+maxLength < len(tokens); i += stride {
		ds.inputs = append(ds.inputs, tokens[i:i+maxLength])
		ds.targets = append(ds.targets, tokens[i+1:i+maxLength+1])
	}
	return ds, nil
}

// Len is the number of windows.
func (ds *Dataset) Len() int {
	return len(ds.inputs)
}

// Item returns window i and its target.
func (ds *Dataset) Item(i int) (input, target []int32) {
	return ds.inputs[i], ds.targets[i]
}

// Loader batches windows in order, dropping a trailing partial batch.
func (ds *Dataset) Loader(batchSize int) (*DatasetLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if ds.Len() < batchSize {
		return nil, fmt.Errorf("%w: %d windows for batch size %d", ErrTooSmall, ds.Len(), batchSize)
	}
	return &DatasetLoader{ds: ds, batchSize: batchSize}, nil
}

// DatasetLoader is a Loader over a Dataset.
type DatasetLoader struct {
	ds        *Dataset
	batchSize int
	batch     int
}

// NumBatches returns the number of whole batches.
func (l *DatasetLoader) NumBatches() int {
	return l.ds.Len() / l.batchSize
}

// Reset starts again from the first window.
func (l *DatasetLoader) Reset() {
	l.batch = 0
}

// NextBatch stacks the next batchSize windows, wrapping around after the last whole batch.
func (l *DatasetLoader) NextBatch() (*torch.IntTensor, *torch.IntTensor, error) {
	if l.batch >= l.NumBatches() {
		l.Reset()
	}
	T := len(l.ds.inputs[0])
	inputs := torch.NewInt(l.batchSize, T)
	targets := torch.NewInt(l.batchSize, T)
	for b := 0; b < l.batchSize; b++ {
		in, tgt := l.ds.Item(l.batch*l.batchSize + b)
		copy(inputs.Data[b*T:], in)
		copy(targets.Data[b*T:], tgt)
	}
	l.batch++
	return inputs, targets, nil
}

// SplitTokens splits tokens at trainRatio into training and validation parts.
func SplitTokens(tokens []int32, trainRatio float64) (train, val []int32) {
	split := int(trainRatio * float64(len(tokens)))
	split = max(0, min(split, len(tokens)))
	return tokens[:split], tokens[split:]
}
