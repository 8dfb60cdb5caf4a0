package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/SentientTree/internal/asset"
	"github.com/AaronLay10/SentientTree/internal/leaf"
)

var validateCmd = &cobra.Command{
	Use:   "validate <asset>",
	Short: "Check a tree asset for consistency",
	Long: `Loads the asset, checks every tree against the registered node types
and builds each one so port links and node configuration are verified too.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runValidate(cmd.OutOrStdout(), args[0]); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// newRegistry returns the built-in node types plus the generic leaves.
func newRegistry() (*asset.Registry, error) {
	reg := asset.NewRegistry()
	if err := leaf.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func runValidate(out io.Writer, path string) error {
	doc, err := asset.Load(path)
	if err != nil {
		return err
	}
	reg, err := newRegistry()
	if err != nil {
		return err
	}
	if err := asset.Validate(doc, reg); err != nil {
		return err
	}

	for _, spec := range doc.Trees {
		tree, err := asset.Build(doc, reg, spec.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d nodes, %d links\n", spec.ID, len(tree.Nodes()), len(spec.Links))
	}
	fmt.Fprintf(out, "%s is valid (%d trees)\n", path, len(doc.Trees))
	return nil
}
