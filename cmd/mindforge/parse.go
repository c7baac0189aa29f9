package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/mindforge"
	"github.com/brunobiangulo/mindforge/mindmap"
)

type parseFlags struct {
	layout   string
	idScheme string
	topic    string
	outline  bool
}

func newParseCmd() *cobra.Command {
	var f parseFlags
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Build a mindmap graph from a model response",
		Long: `Parse a model response (a JSON object or a bullet list) into a
{nodes, edges} graph without calling a model. Reads stdin when the file is
omitted or "-".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd, args, f)
		},
	}
	cmd.Flags().StringVar(&f.layout, "layout", "radial", "layout: radial or chained")
	cmd.Flags().StringVar(&f.idScheme, "ids", "composite", "node ID scheme: composite or sequential")
	cmd.Flags().StringVar(&f.topic, "topic", "", "central label when the response has none")
	cmd.Flags().BoolVar(&f.outline, "outline", false, "print the parsed outline with the graph")
	return cmd
}

func runParse(cmd *cobra.Command, args []string, f parseFlags) error {
	opts := mindmap.DefaultOptions()
	layout, err := mindmap.ParseLayout(f.layout)
	if err != nil {
		return err
	}
	ids, err := mindmap.ParseIDScheme(f.idScheme)
	if err != nil {
		return err
	}
	opts.Layout, opts.IDScheme = layout, ids

	text, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	result := mindmap.Adapt(mindmap.Response{Text: text}, f.topic, opts)
	out := cmd.OutOrStdout()
	if f.outline {
		err = writeJSON(out, result)
	} else {
		err = writeJSON(out, result.Graph)
	}
	if err != nil {
		return err
	}
	if result.Graph.IsEmpty() {
		return mindforge.ErrNoDiagram
	}
	return nil
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		file, err := os.Open(args[0])
		if err != nil {
			return "", err
		}
		defer file.Close()
		r = file
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return string(data), nil
}
