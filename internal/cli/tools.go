package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/confidant/internal/classify"
	"github.com/lazypower/confidant/internal/directory"
	"github.com/lazypower/confidant/internal/memory"
	"github.com/lazypower/confidant/internal/relay"
	"github.com/lazypower/confidant/internal/tags"
	"github.com/lazypower/confidant/internal/transcript"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [text]",
	Short: "Show which tier a text would be filed under, without storing it",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		res := classify.Analyze(strings.Join(args, " "))
		fmt.Printf("%s (confidence %.2f)\n", res.Tag.Label(), res.Confidence)
		if res.Override {
			fmt.Println("  explicit declaration")
			return
		}
		for _, t := range tags.All() {
			fmt.Printf("  %-14s %d\n", t.Label(), res.Scores[t])
		}
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge expired unlock sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.eng.CleanupExpired(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d expired session(s).\n", n)
		return nil
	},
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Forward one message envelope from stdin to the server",
	Long:  "Reads a JSON envelope {from, text, kind, audio, mime} on stdin, posts it to the server at CONFIDANT_URL and writes the reply JSON to stdout.",
	Run: func(cmd *cobra.Command, args []string) {
		relay.Handle(relay.NewClient(), os.Stdin, os.Stdout, os.Stderr)
	},
}

var importAll bool

func init() {
	importCmd.Flags().BoolVar(&importAll, "all", false, "import every sender's messages, not just --as")
}

var importCmd = &cobra.Command{
	Use:   "import [file.jsonl]",
	Short: "Import chat history as memories",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msgs, err := transcript.ParseFile(args[0])
		if err != nil {
			return err
		}

		only := ""
		if !importAll {
			if only, err = principal(); err != nil {
				return fmt.Errorf("%w (or pass --all)", err)
			}
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := context.Background()
		counts := make(map[string]int)
		skipped := 0
		for _, m := range msgs {
			from, err := directory.NormalizePrincipal(m.From)
			if err != nil || (only != "" && from != only) {
				skipped++
				continue
			}
			source := memory.SourceText
			if m.Kind == "voice" {
				source = memory.SourceVoice
			}
			note := "imported"
			if !m.TS.IsZero() {
				note = "imported; sent " + m.TS.UTC().Format(time.RFC3339)
			}
			e, err := a.eng.Ingest(ctx, from, m.Text, source, note)
			if err != nil {
				a.logger.Warn("import message failed", zap.String("from", from), zap.Error(err))
				skipped++
				continue
			}
			counts[e.Tag.Label()]++
		}

		labels := make([]string, 0, len(counts))
		for l := range counts {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		total := 0
		for _, l := range labels {
			fmt.Printf("  %-14s %d\n", l, counts[l])
			total += counts[l]
		}
		fmt.Printf("Imported %d message(s), skipped %d.\n", total, skipped)
		return nil
	},
}
