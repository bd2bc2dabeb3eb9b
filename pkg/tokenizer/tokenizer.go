// Package tokenizer converts between text and the integer token ids the model consumes.
package tokenizer

import "errors"

// ErrUnknownToken is returned when text or an id has no entry in the vocabulary.
var ErrUnknownToken = errors.New("unknown token")

// Tokenizer is an interface for tokenizing text.
type Tokenizer interface {
	Encode(text string) ([]int32, error)
	Decode(tokens []int32) (string, error)
	// VocabSize is the number of distinct ids the tokenizer can produce.
	VocabSize() int
	// EOT is the id that separates documents.
	EOT() int32
}
