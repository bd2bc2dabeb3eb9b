package cmd

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/conneroisu/gpt/pkg/gpt2"
	"github.com/spf13/cobra"
)

type generateArgs struct {
	text        string
	nSamples    int
	length      int
	temperature float64
	topK        int
	contextSize int
	greedy      bool
	stopAtEOT   bool
}

// NewGenerateCmd returns the command that samples text from a model.
func NewGenerateCmd(root *rootArgs) *cobra.Command {
	args := &generateArgs{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate text from a prompt",
		Long: `
Encodes the prompt, extends it token by token and prints the decoded text.

Without --text generation starts from the end-of-text token.
	`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, err := root.loadTokenizer()
			if err != nil {
				return err
			}
			if tok == nil {
				return fmt.Errorf("one of --tokenizer or --vocab-text is required")
			}
			model, err := root.loadModel(tok)
			if err != nil {
				return err
			}
			prompt := []int32{tok.EOT()}
			if args.text != "" {
				if prompt, err = tok.Encode(args.text); err != nil {
					return fmt.Errorf("encoding prompt: %w", err)
				}
			}
			contextSize := args.contextSize
			if contextSize == 0 {
				contextSize = model.Config.ContextLength
			}
			if len(prompt) > contextSize {
				log.Warn("prompt is longer than the context, keeping its tail", "tokens", len(prompt), "context_size", contextSize)
			}
			topK := args.topK
			if topK == 0 {
				topK = model.Config.VocabSize
			}
			eos := gpt2.NoEOS
			if args.stopAtEOT && int(tok.EOT()) < model.Config.VocabSize {
				eos = tok.EOT()
			}

			gen := gpt2.NewGenerator(model, root.seed)
			for i := 0; i < args.nSamples; i++ {
				var out []int32
				if args.greedy {
					out, err = gen.GenerateGreedy(cmd.Context(), prompt, args.length, contextSize, eos)
				} else {
					out, err = gen.Generate(cmd.Context(), prompt, gpt2.GenerateOptions{
						MaxNewTokens: args.length,
						ContextSize:  contextSize,
						Temperature:  args.temperature,
						TopK:         topK,
						EOS:          eos,
					})
				}
				if err != nil {
					return fmt.Errorf("generating sample %d: %w", i, err)
				}
				text, err := tok.Decode(out)
				if err != nil {
					return err
				}
				if args.nSamples > 1 {
					fmt.Fprintf(cmd.OutOrStdout(), "======== SAMPLE %d ========\n", i+1)
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
			}
			return nil
		},
	}

	cmd.Flags().
		StringVarP(&args.text, "text", "t", "", "Prompt to continue")
	cmd.Flags().
		IntVarP(&args.nSamples, "n-samples", "n", 1, "Number of samples to generate")
	cmd.Flags().
		IntVarP(&args.length, "length", "l", 20, "Number of tokens to generate")
	cmd.Flags().
		Float64VarP(&args.temperature, "temperature", "T", 1.0, "Temperature")
	cmd.Flags().
		IntVarP(&args.topK, "top-k", "k", 0, "Top-k sampling (0 keeps the whole vocabulary)")
	cmd.Flags().
		IntVar(&args.contextSize, "context-size", 0, "Tokens of context per step (0 uses the model's context length)")
	cmd.Flags().
		BoolVar(&args.greedy, "greedy", false, "Always pick the most likely token")
	cmd.Flags().
		BoolVar(&args.stopAtEOT, "stop-at-eot", false, "Stop a sample once the end-of-text token is generated")
	return cmd
}
