package tokenizer

import "fmt"

// trie maps byte strings to token ids.
type trie struct {
	children map[byte]*trie
	data     int32
	end      bool
}

// newTrie creates a trie holding words, where word i gets id i.
func newTrie(words []string) (*trie, error) {
	t := &trie{children: map[byte]*trie{}}
	for i, word := range words {
		if err := t.Insert([]byte(word), int32(i)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Insert inserts a word into the trie. A later insert of the same word wins.
func (t *trie) Insert(word []byte, data int32) error {
	if len(word) == 0 {
		return fmt.Errorf("zero length word not supported")
	}
	cur := t
	for _, b := range word {
		if cur.children[b] == nil {
			cur.children[b] = &trie{children: map[byte]*trie{}}
		}
		cur = cur.children[b]
	}
	cur.end = true
	cur.data = data
	return nil
}

// Tokenize splits input greedily into the longest known prefixes.
func (t *trie) Tokenize(input []byte) ([]int32, error) {
	tokens := make([]int32, 0, len(input)/2+1)
	for len(input) != 0 {
		cur := t
		endIdx, token := 0, int32(-1)
		for next := 0; next < len(input); next++ {
			cur = cur.children[input[next]]
			if cur == nil {
				break
			}
			if cur.end {
				endIdx, token = next+1, cur.data
			}
		}
		if endIdx == 0 {
			return nil, fmt.Errorf("%w: no token for byte %#x", ErrUnknownToken, input[0])
		}
		tokens = append(tokens, token)
		input = input[endIdx:]
	}
	return tokens, nil
}
