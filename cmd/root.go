// Package cmd contains the root command for the GPT CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/conneroisu/gpt/pkg/gpt2"
	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"
)

// rootArgs are the flags shared by every subcommand.
type rootArgs struct {
	verbose        bool
	preset         string
	configPath     string
	checkpointPath string
	tokenizerPath  string
	vocabText      string
	device         string
	seed           uint64
}

// NewRootCmd returns the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	args := &rootArgs{}
	cmd := &cobra.Command{
		Use:   "gpt",
		Short: "A CLI for GPT language models",
		Long: `
A CLI for decoder-only GPT language models.

Builds a model from a preset, a YAML config or an llm.c checkpoint
and generates text with it or measures its loss on a dataset.
	`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log.SetOutput(cmd.ErrOrStderr())
			if args.verbose {
				log.SetLevel(log.DebugLevel)
			} else {
				log.SetLevel(log.InfoLevel)
			}
			return nil
		},
	}

	cmd.PersistentFlags().
		BoolVarP(&args.verbose, "verbose", "v", false, "Verbose output")
	cmd.PersistentFlags().
		StringVar(&args.preset, "preset", "tiny", fmt.Sprintf("Model preset used when no config or checkpoint is given %v", gpt2.PresetNames()))
	cmd.PersistentFlags().
		StringVarP(&args.configPath, "config", "c", "", "Path to a YAML model config")
	cmd.PersistentFlags().
		StringVarP(&args.checkpointPath, "checkpoint", "m", "", "Path to an llm.c model checkpoint")
	cmd.PersistentFlags().
		StringVarP(&args.tokenizerPath, "tokenizer", "p", "", "Path to an llm.c tokenizer.bin file")
	cmd.PersistentFlags().
		StringVar(&args.vocabText, "vocab-text", "", "Path to a text file to build a word-level vocabulary from")
	cmd.PersistentFlags().
		StringVar(&args.device, "device", "cpu", "Device to run on (cpu or cuda)")
	cmd.PersistentFlags().
		Uint64VarP(&args.seed, "seed", "s", rand.Uint64(), "Seed for random number generator")

	cmd.AddCommand(NewGenerateCmd(args))
	cmd.AddCommand(NewEvalCmd(args))
	cmd.AddCommand(NewInfoCmd(args))
	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := NewRootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
