package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"animarr/internal/anime"
	"animarr/internal/domain"
	"animarr/internal/language"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search for an anime across every source",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		lang, err := language.Parse(searchLanguage)
		if err != nil {
			fmt.Println("Invalid language:", err)
			return
		}

		app, err := startApp(ctx)
		if err != nil {
			fmt.Println("Failed to start:", err)
			os.Exit(1)
		}
		defer app.shutdown(ctx)

		n := searchResults
		if n <= 0 {
			n = app.cfg.Config.MaxResults
		}

		query := strings.Join(args, " ")
		results, err := app.engine.Search(ctx, query, lang, searchDubbed, n)
		if err != nil {
			fmt.Printf("Failed to search for %q: %v\n", query, err)
			return
		}

		if len(results) == 0 {
			fmt.Printf("Nothing found for %q\n", query)
			return
		}

		if searchGroup {
			animes := lo.Map(results, func(r domain.SearchResult, _ int) domain.SourceAnime {
				return r.Anime
			})

			for _, g := range anime.GroupAnimes(ctx, animes, true) {
				printAnime(ctx, g)
				for _, u := range g.UIDs() {
					fmt.Println("  from:", u)
				}
				fmt.Println()
			}
			return
		}

		for _, result := range results {
			printResult(ctx, result)
		}
	},
}

func printResult(ctx context.Context, result domain.SearchResult) {
	u, err := result.Anime.UID(ctx)
	if err != nil {
		fmt.Println("Failed to identify a result:", err)
		return
	}

	title, _ := result.Anime.Title(ctx)
	count, _ := result.Anime.EpisodeCount(ctx)

	fmt.Printf("%3.0f%%  %s\n", result.Certainty*100, title)
	fmt.Printf("      uid: %s  episodes: %d\n", u, count)
}
