package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewInfoCmd returns the command that describes a model.
func NewInfoCmd(root *rootArgs) *cobra.Command {
	var params bool
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print the configuration and size of a model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok, err := root.loadTokenizer()
			if err != nil {
				return err
			}
			model, err := root.loadModel(tok)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			raw, err := yaml.Marshal(model.Config)
			if err != nil {
				return err
			}
			fmt.Fprint(out, string(raw))
			fmt.Fprintf(out, "parameters: %d\n", model.NumParameters())
			if params {
				for _, p := range model.Parameters() {
					fmt.Fprintf(out, "  %-28s %v\n", p.Name, p.Tensor.Shape)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&params, "params", false, "List every parameter tensor")
	return cmd
}
