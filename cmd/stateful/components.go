package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aretw0/stateful/internal/demo"
	"github.com/aretw0/stateful/internal/presentation/graph"
	"github.com/aretw0/stateful/internal/presentation/tui"
	"github.com/aretw0/stateful/pkg/domain"
)

var componentsCmd = &cobra.Command{
	Use:   "components [id]",
	Short: "Describe the components the server deploys",
	Long: `Prints the client views, method kinds and transaction attributes of the
demo components, as rendered markdown or as a Mermaid flowchart.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		cts := demo.Components()
		if len(args) == 1 {
			ct, err := findComponent(cts, args[0])
			if err != nil {
				return err
			}
			cts = []*domain.ComponentType{ct}
		}

		out := cmd.OutOrStdout()
		switch format {
		case "mermaid":
			for _, ct := range cts {
				fmt.Fprint(out, graph.GenerateMermaid(ct))
			}
			return nil
		case "markdown":
			render, err := tui.NewRenderer(isTerminal(out))
			if err != nil {
				return err
			}
			for _, ct := range cts {
				text, err := render(tui.DescribeComponent(ct))
				if err != nil {
					return err
				}
				fmt.Fprint(out, text)
			}
			return nil
		default:
			return fmt.Errorf("unknown format %q (want markdown or mermaid)", format)
		}
	},
}

func init() {
	rootCmd.AddCommand(componentsCmd)
	componentsCmd.Flags().StringP("format", "f", "markdown", "Output format: markdown or mermaid")
}

func findComponent(cts []*domain.ComponentType, id string) (*domain.ComponentType, error) {
	for _, ct := range cts {
		if ct.ID == id {
			return ct, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrNotDeployed, id)
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
