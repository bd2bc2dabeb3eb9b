package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/conneroisu/gpt/pkg/checkpoint"
	"github.com/conneroisu/gpt/pkg/gpt2"
	"github.com/conneroisu/gpt/pkg/tokenizer"
	"github.com/conneroisu/gpt/pkg/torch"
)

// loadTokenizer returns the tokenizer selected by the flags, or nil if none is.
func (args *rootArgs) loadTokenizer() (tokenizer.Tokenizer, error) {
	switch {
	case args.tokenizerPath != "" && args.vocabText != "":
		return nil, fmt.Errorf("--tokenizer and --vocab-text are mutually exclusive")
	case args.tokenizerPath != "":
		return tokenizer.LoadTable(args.tokenizerPath)
	case args.vocabText != "":
		text, err := os.ReadFile(args.vocabText)
		if err != nil {
			return nil, err
		}
		return tokenizer.NewVocab(string(text))
	}
	return nil, nil
}

// loadModel builds the model selected by the flags. A freshly initialised model
// takes its vocabulary size from tok when one is given.
func (args *rootArgs) loadModel(tok tokenizer.Tokenizer) (*gpt2.Model, error) {
	device, err := torch.ParseDevice(args.device)
	if err != nil {
		return nil, err
	}
	opts := gpt2.Options{Seed: args.seed, Device: device}
	if args.checkpointPath != "" {
		model, err := checkpoint.Load(args.checkpointPath, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to load model: %w", err)
		}
		if tok != nil && tok.VocabSize() > model.Config.VocabSize {
			return nil, fmt.Errorf("tokenizer has %d tokens, model only %d", tok.VocabSize(), model.Config.VocabSize)
		}
		return model, nil
	}
	var cfg gpt2.Config
	if args.configPath != "" {
		cfg, err = gpt2.LoadConfig(args.configPath)
	} else {
		cfg, err = gpt2.Preset(args.preset)
	}
	if err != nil {
		return nil, err
	}
	if tok != nil {
		cfg.VocabSize = tok.VocabSize()
	}
	log.Info("initialising untrained model", "vocab_size", cfg.VocabSize, "layers", cfg.NumLayers)
	return gpt2.NewModel(cfg, opts)
}
