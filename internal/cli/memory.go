package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/confidant/internal/memory"
	"github.com/lazypower/confidant/internal/store"
	"github.com/lazypower/confidant/internal/tags"
)

var (
	rememberSource  string
	rememberContext string
	searchScope     string
	searchLimit     int
	listLimit       int
	forgetReason    string
)

func init() {
	rememberCmd.Flags().StringVar(&rememberSource, "source", memory.SourceText, "where the memory came from: text, voice or other")
	rememberCmd.Flags().StringVar(&rememberContext, "context", "", "free-form note stored with the memory")

	searchCmd.Flags().StringVarP(&searchScope, "scope", "s", "self", "self, department or tenant")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results")

	recentCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "maximum number of entries")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "maximum number of entries")

	forgetCmd.Flags().StringVar(&forgetReason, "reason", "", "why the memory is being deleted")
}

var rememberCmd = &cobra.Command{
	Use:   "remember [text]",
	Short: "Classify and store a memory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrincipal(func(ctx context.Context, a *app, p string) error {
			e, err := a.eng.Ingest(ctx, p, strings.Join(args, " "), rememberSource, rememberContext)
			if err != nil {
				return err
			}
			fmt.Printf("Saved as %s (%s)\n", e.Tag.Label(), e.ID)
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memories within a scope",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := tags.ParseScope(searchScope)
		if err != nil {
			return err
		}
		return withPrincipal(func(ctx context.Context, a *app, p string) error {
			hits, err := a.eng.SearchScoped(ctx, p, scope, strings.Join(args, " "), searchLimit)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Println("No results found.")
				return nil
			}
			for i, h := range hits {
				fmt.Printf("%d. [%.3f] %s\n", i+1, h.Score, h.Entry.Content)
				fmt.Printf("   %s · %s · %s\n\n", h.Entry.Tag.Label(), h.Entry.PrincipalID, h.Entry.ID)
			}
			return nil
		})
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the newest visible memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrincipal(func(ctx context.Context, a *app, p string) error {
			entries, err := a.eng.Recent(ctx, p, listLimit)
			if err != nil {
				return err
			}
			printEntries(entries)
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list [tag]",
	Short: "List one tier of memories",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, err := tags.Parse(args[0])
		if err != nil {
			return err
		}
		return withPrincipal(func(ctx context.Context, a *app, p string) error {
			entries, err := a.eng.ListByTag(ctx, p, tag, listLimit)
			if err != nil {
				return err
			}
			printEntries(entries)
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show one memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrincipal(func(ctx context.Context, a *app, p string) error {
			e, err := a.eng.Get(ctx, p, args[0])
			if err != nil {
				return err
			}
			fmt.Println(e.Content)
			fmt.Printf("\n%s · seq %d · %s · %s\n", e.Tag.Label(), e.Seq, e.Source, time.UnixMilli(e.CreatedAt).Format(time.RFC3339))
			if len(e.RelatedPrincipals) > 0 {
				fmt.Printf("mentions: %s\n", strings.Join(e.RelatedPrincipals, ", "))
			}
			return nil
		})
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget [id]",
	Short: "Delete a memory (it stays on disk as a tombstone)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrincipal(func(ctx context.Context, a *app, p string) error {
			if err := a.eng.Delete(ctx, p, args[0], forgetReason); err != nil {
				return err
			}
			fmt.Println("Forgotten.")
			return nil
		})
	},
}

// withPrincipal opens the app and runs fn as the --as principal.
func withPrincipal(fn func(ctx context.Context, a *app, p string) error) error {
	p, err := principal()
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, a, p)
}

func printEntries(entries []store.Entry) {
	if len(entries) == 0 {
		fmt.Println("No memories.")
		return
	}
	for _, e := range entries {
		fmt.Printf("- [%s] %s\n  %s · %s\n", time.UnixMilli(e.CreatedAt).Format("2006-01-02 15:04"), e.Content, e.Tag.Label(), e.ID)
	}
}
