package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/conneroisu/gpt/pkg/data"
	"github.com/conneroisu/gpt/pkg/gpt2"
	"github.com/spf13/cobra"
)

// trainRatio is the share of a text used as training data; the rest is validation.
const trainRatio = 0.9

type evalArgs struct {
	datasetPath string
	textPath    string
	batchSize   int
	seqLength   int
	numBatches  int
}

// NewEvalCmd returns the command that reports a model's cross-entropy loss.
func NewEvalCmd(root *rootArgs) *cobra.Command {
	args := &evalArgs{}
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Measure the loss of a model on a dataset",
		Long: `
Reports the mean next-token cross-entropy of a model.

--dataset-path reads llm.c int32 token files. --text-path tokenizes a text
file, splits it into training and validation parts and reports both.
	`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (args.datasetPath == "") == (args.textPath == "") {
				return fmt.Errorf("exactly one of --dataset-path or --text-path is required")
			}
			tok, err := root.loadTokenizer()
			if err != nil {
				return err
			}
			if args.textPath != "" && tok == nil {
				root.vocabText = args.textPath
				if tok, err = root.loadTokenizer(); err != nil {
					return err
				}
			}
			model, err := root.loadModel(tok)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if args.seqLength == 0 {
				args.seqLength = model.Config.ContextLength
			}

			if args.datasetPath != "" {
				loader, err := data.NewDataLoader(args.datasetPath, args.batchSize, args.seqLength)
				if err != nil {
					return fmt.Errorf("failed to load data loader: %w", err)
				}
				loss, err := meanLoss(model, loader, args.numBatches)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "loss %f\n", loss)
				return nil
			}

			text, err := os.ReadFile(args.textPath)
			if err != nil {
				return err
			}
			tokens, err := tok.Encode(string(text))
			if err != nil {
				return err
			}
			train, val := data.SplitTokens(tokens, trainRatio)
			for _, split := range []struct {
				name   string
				tokens []int32
			}{{"train", train}, {"val", val}} {
				ds, err := data.NewDataset(split.tokens, args.seqLength, args.seqLength)
				if err != nil {
					return fmt.Errorf("%s split: %w", split.name, err)
				}
				loader, err := ds.Loader(args.batchSize)
				if err != nil {
					return fmt.Errorf("%s split: %w", split.name, err)
				}
				loss, err := meanLoss(model, loader, args.numBatches)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s loss %f\n", split.name, loss)
			}
			return nil
		},
	}

	cmd.Flags().
		StringVarP(&args.datasetPath, "dataset-path", "d", "", "Path to an llm.c token file")
	cmd.Flags().
		StringVar(&args.textPath, "text-path", "", "Path to a text file")
	cmd.Flags().
		IntVarP(&args.batchSize, "batch-size", "b", 4, "Batch size")
	cmd.Flags().
		IntVarP(&args.seqLength, "seq-length", "l", 0, "Sequence length (0 uses the model's context length)")
	cmd.Flags().
		IntVar(&args.numBatches, "num-batches", 0, "Batches to evaluate (0 evaluates one full pass)")
	return cmd
}

// meanLoss averages the loss over numBatches batches of loader, or over every
// batch when numBatches is zero or exceeds what the loader holds.
func meanLoss(model *gpt2.Model, loader data.Loader, numBatches int) (float32, error) {
	if numBatches <= 0 || numBatches > loader.NumBatches() {
		numBatches = loader.NumBatches()
	}
	loader.Reset()
	var total float32
	for i := 0; i < numBatches; i++ {
		inputs, targets, err := loader.NextBatch()
		if err != nil {
			return 0, err
		}
		loss, err := model.Loss(inputs, targets)
		if err != nil {
			return 0, fmt.Errorf("batch %d: %w", i, err)
		}
		log.Debug("evaluated batch", "batch", i, "loss", loss)
		total += loss
	}
	return total / float32(numBatches), nil
}
