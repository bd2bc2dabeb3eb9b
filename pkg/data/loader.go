// Package data serves (input, target) token batches for next-token prediction.
package data

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/conneroisu/gpt/pkg/torch"
)

// Int32ByteLen is the size of one stored token.
const Int32ByteLen = 4

// ErrTooSmall is returned when there are not enough tokens for a single batch.
var ErrTooSmall = errors.New("not enough tokens")

// Loader is an interface for data loaders.
//
// NextBatch returns (B, T) inputs and the same positions shifted by one as targets.
type Loader interface {
	NextBatch() (inputs, targets *torch.IntTensor, err error)
	Reset()
	// NumBatches is the number of batches in one pass over the data.
	NumBatches() int
}

// DataLoader reads a flat stream of little-endian int32 tokens and serves
// consecutive non-overlapping batches, wrapping around at the end.
type DataLoader struct {
	batchSize  int
	seqLength  int
	curPos     int
	numBatches int
	data       []int32
}

// NewDataLoader reads a token file into a loader.
func NewDataLoader(filename string, batchSize, seqLength int) (*DataLoader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadDataLoader(file, batchSize, seqLength)
}

// ReadDataLoader reads tokens from r into a loader.
func ReadDataLoader(r io.Reader, batchSize, seqLength int) (*DataLoader, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(raw)%Int32ByteLen != 0 {
		return nil, fmt.Errorf("token data length %d is not a multiple of %d", len(raw), Int32ByteLen)
	}
	tokens := make([]int32, len(raw)/Int32ByteLen)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, tokens); err != nil {
		return nil, err
	}
	return NewTokenLoader(tokens, batchSize, seqLength)
}

// NewTokenLoader serves batches from tokens already in memory.
func NewTokenLoader(tokens []int32, batchSize, seqLength int) (*DataLoader, error) {
	if batchSize <= 0 || seqLength <= 0 {
		return nil, fmt.Errorf("batch size and sequence length must be positive, got %d and %d", batchSize, seqLength)
	}
	if len(tokens) < batchSize*seqLength+1 {
		return nil, fmt.Errorf("%w: have %d, need %d for batch size %d and sequence length %d",
			ErrTooSmall, len(tokens), batchSize*seqLength+1, batchSize, seqLength)
	}
	return &DataLoader{
		batchSize:  batchSize,
		seqLength:  seqLength,
		numBatches: (len(tokens) - 1) / (batchSize * seqLength),
		data:       tokens,
	}, nil
}

// NumBatches returns the number of whole batches in the data.
func (loader *DataLoader) NumBatches() int {
	return loader.numBatches
}

// Reset resets the loader to the beginning of the file.
func (loader *DataLoader) Reset() {
	loader.curPos = 0
}

// NextBatch returns the next batch of data.
func (loader *DataLoader) NextBatch() (*torch.IntTensor, *torch.IntTensor, error) {
	B, T := loader.batchSize, loader.seqLength
	nextPos := loader.curPos + B*T
	if nextPos+1 > len(loader.data) {
		loader.Reset()
		nextPos = B * T
	}
	inputs, err := torch.IntFromSlice(loader.data[loader.curPos:nextPos], B, T)
	if err != nil {
		return nil, nil, err
	}
	targets, err := torch.IntFromSlice(loader.data[loader.curPos+1:nextPos+1], B, T)
	if err != nil {
		return nil, nil, err
	}
	loader.curPos = nextPos
	return inputs, targets, nil
}
