// Command mindforge builds mindmaps and runs the media helpers from the
// command line.
//
//	mindforge parse notes.md --layout chained
//	cat response.txt | mindforge parse -
//	mindforge generate --topic "Energy transition"
//	mindforge transcribe memo.mp3 --lang fr
//	mindforge ocr scan.png
//	mindforge analyze report.pdf --mindmap
package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/mindforge"
)

var (
	configPath string
	logLevel   string
	userID     string

	version = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mindforge",
		Short: "Turn topics, text and documents into mindmaps",
		Long: `mindforge builds {nodes, edges} mindmap graphs from model responses,
generates mindmaps for a topic, and transcribes, reads or analyzes files.

Configuration is read from --config (YAML) and MINDFORGE_* environment
variables, e.g. MINDFORGE_CHAT_API_KEY.`,
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: cliLevel(logLevel),
			})))
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("MINDFORGE_CONFIG"), "config file (YAML)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&userID, "user", "cli", "user ID that owns saved mindmaps")

	root.AddCommand(newParseCmd())
	root.AddCommand(newGenerateCmd())
	root.AddCommand(newTranscribeCmd())
	root.AddCommand(newOCRCmd())
	root.AddCommand(newAnalyzeCmd())
	return root
}

// openEngine loads the configuration and builds an engine. Callers close it.
func openEngine(ctx context.Context) (mindforge.Engine, error) {
	cfg, err := mindforge.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return mindforge.New(ctx, cfg)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func cliLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
