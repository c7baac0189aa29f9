package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/mindforge"
	"github.com/brunobiangulo/mindforge/transcribe"
)

func newGenerateCmd() *cobra.Command {
	var req mindforge.GenerateRequest
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Ask the chat model for a mindmap of a topic and save it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			engine, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer engine.Close()

			m, err := engine.GenerateMindmap(ctx, userID, req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), m)
		},
	}
	cmd.Flags().StringVar(&req.Topic, "topic", "", "topic of the mindmap (required)")
	cmd.Flags().StringVar(&req.Layout, "layout", "", "layout: radial or chained (default from config)")
	cmd.Flags().StringVar(&req.Shape, "shape", "", "response shape: json or bullets (default from config)")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func newTranscribeCmd() *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Transcribe an audio file with AssemblyAI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Minute)
			defer cancel()

			audio, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer audio.Close()

			engine, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer engine.Close()

			t, err := engine.Transcribe(ctx, userID, audio, transcribe.Options{LanguageCode: lang})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), t.Text)
			return err
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "language code (default from config)")
	return cmd
}

func newOCRCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ocr <file>",
		Short: "Transcribe an image to markdown with the vision model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Minute)
			defer cancel()

			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			engine, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer engine.Close()

			md, err := engine.OCR(ctx, userID, image)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), md)
			return err
		},
	}
}

func newAnalyzeCmd() *cobra.Command {
	var opts mindforge.AnalyzeOptions
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Analyze a document (PDF, XLSX, CSV, text or image)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			engine, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer engine.Close()

			a, err := engine.AnalyzeDocument(ctx, userID, args[0], opts)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), a)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, a.Text)
			if a.Truncated {
				fmt.Fprintln(out, "\n(document was truncated before analysis)")
			}
			if a.Mindmap != nil {
				fmt.Fprintf(out, "\nmindmap saved: %s (%d nodes)\n", a.Mindmap.ID, len(a.Mindmap.Graph.Nodes))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Question, "question", "", "focus the analysis on a question")
	cmd.Flags().BoolVar(&opts.Mindmap, "mindmap", false, "also build and save a mindmap of the document")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}
