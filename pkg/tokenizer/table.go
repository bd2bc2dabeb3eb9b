package tokenizer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	tableMagic      = 20240328
	tableHeaderSize = 256

	// GPT2EOT is the GPT-2 end-of-text id used when a table does not record one.
	GPT2EOT int32 = 50256
)

// Table is a token table tokenizer in the llm.c tokenizer.bin format.
// Decoding is exact; encoding greedily takes the longest known prefix.
type Table struct {
	tokenTable []string
	eot        int32
	trie       *trie
}

// NewTable builds a table tokenizer from tokens, where token i gets id i.
func NewTable(tokens []string, eot int32) (*Table, error) {
	tr, err := newTrie(tokens)
	if err != nil {
		return nil, err
	}
	return &Table{tokenTable: append([]string(nil), tokens...), eot: eot, trie: tr}, nil
}

// LoadTable reads a tokenizer.bin file.
func LoadTable(filename string) (*Table, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTable(bufio.NewReader(f))
}

// ReadTable reads the tokenizer.bin format: a 256 uint32 header (magic, version,
// vocab size, and for version 2 the end-of-text id) followed by one
// length-prefixed byte string per token.
func ReadTable(r io.Reader) (*Table, error) {
	header := make([]uint32, tableHeaderSize)
	if err := binary.Read(r, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	if header[0] != tableMagic || (header[1] != 1 && header[1] != 2) {
		return nil, fmt.Errorf("incorrect header for tokenizer")
	}
	eot := GPT2EOT
	if header[1] == 2 {
		eot = int32(header[3])
	}
	tokens := make([]string, header[2])
	var length byte
	for i := range tokens {
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, err
		}
		if length == 0 {
			return nil, fmt.Errorf("tokenizer failure: token %d has zero length", i)
		}
		tokenBytes := make([]byte, length)
		if _, err := io.ReadFull(r, tokenBytes); err != nil {
			return nil, err
		}
		tokens[i] = string(tokenBytes)
	}
	return NewTable(tokens, eot)
}

// WriteTo writes the table in the version 2 tokenizer.bin format.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	header := make([]uint32, tableHeaderSize)
	header[0], header[1], header[2], header[3] = tableMagic, 2, uint32(len(t.tokenTable)), uint32(t.eot)
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return 0, err
	}
	n := int64(tableHeaderSize * 4)
	for i, tok := range t.tokenTable {
		if len(tok) == 0 || len(tok) > 255 {
			return n, fmt.Errorf("token %d has unsupported length %d", i, len(tok))
		}
		m, err := w.Write(append([]byte{byte(len(tok))}, tok...))
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// VocabSize returns the number of tokens in the table.
func (t *Table) VocabSize() int {
	return len(t.tokenTable)
}

// EOT returns the end-of-text id.
func (t *Table) EOT() int32 {
	return t.eot
}

// Decode decodes a sequence of tokens into a string. End-of-text ids are dropped.
func (t *Table) Decode(tokens []int32) (string, error) {
	var sb strings.Builder
	for _, token := range tokens {
		if token < 0 || int(token) >= len(t.tokenTable) {
			return "", fmt.Errorf("%w: id %d", ErrUnknownToken, token)
		}
		if token != t.eot {
			sb.WriteString(t.tokenTable[token])
		}
	}
	return sb.String(), nil
}

// Encode encodes a string into a sequence of tokens.
func (t *Table) Encode(text string) ([]int32, error) {
	return t.trie.Tokenize([]byte(text))
}
