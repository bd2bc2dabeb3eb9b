package tokenizer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dlclark/regexp2"
)

const (
	// EndOfText separates documents in a Vocab.
	EndOfText = "<|endoftext|>"
	// Unknown stands in for words missing from a Vocab.
	Unknown = "<|unk|>"
)

var (
	splitPattern = regexp2.MustCompile(`([,.?_!"()']|--|\s)`, regexp2.None)
	gluePattern  = regexp2.MustCompile(`\s+([,.?_!"()'])`, regexp2.None)
)

// Split breaks text into words and punctuation, dropping whitespace.
func Split(text string) ([]string, error) {
	runes := []rune(text)
	var pieces []string
	emit := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			pieces = append(pieces, s)
		}
	}
	last := 0
	m, err := splitPattern.FindStringMatch(text)
	for ; m != nil && err == nil; m, err = splitPattern.FindNextMatch(m) {
		// regexp2 reports positions in runes
		emit(string(runes[last:m.Index]))
		emit(m.String())
		last = m.Index + m.Length
	}
	if err != nil {
		return nil, err
	}
	emit(string(runes[last:]))
	return pieces, nil
}

// Vocab is a word level tokenizer whose vocabulary is every distinct word and
// punctuation mark of a corpus, plus EndOfText and Unknown.
type Vocab struct {
	strToInt map[string]int32
	intToStr []string
}

// NewVocab builds a vocabulary from corpus.
func NewVocab(corpus string) (*Vocab, error) {
	words, err := Split(corpus)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var unique []string
	for _, w := range words {
		if !seen[w] {
			seen[w] = true
			unique = append(unique, w)
		}
	}
	sort.Strings(unique)
	unique = append(unique, EndOfText, Unknown)
	v := &Vocab{strToInt: make(map[string]int32, len(unique)), intToStr: unique}
	for i, w := range unique {
		v.strToInt[w] = int32(i)
	}
	return v, nil
}

// VocabSize returns the number of entries including the special tokens.
func (v *Vocab) VocabSize() int {
	return len(v.intToStr)
}

// EOT returns the id of EndOfText.
func (v *Vocab) EOT() int32 {
	return v.strToInt[EndOfText]
}

// ID returns the id of token.
func (v *Vocab) ID(token string) (int32, bool) {
	id, ok := v.strToInt[token]
	return id, ok
}

// Encode maps each word of text to its id; unseen words map to Unknown.
func (v *Vocab) Encode(text string) ([]int32, error) {
	words, err := Split(text)
	if err != nil {
		return nil, err
	}
	unk := v.strToInt[Unknown]
	ids := make([]int32, len(words))
	for i, w := range words {
		id, ok := v.strToInt[w]
		if !ok {
			id = unk
		}
		ids[i] = id
	}
	return ids, nil
}

// Decode joins the words of ids with spaces and re-attaches punctuation.
func (v *Vocab) Decode(ids []int32) (string, error) {
	words := make([]string, len(ids))
	for i, id := range ids {
		if id < 0 || int(id) >= len(v.intToStr) {
			return "", fmt.Errorf("%w: id %d", ErrUnknownToken, id)
		}
		words[i] = v.intToStr[id]
	}
	return gluePattern.Replace(strings.Join(words, " "), "$1", -1, -1)
}
