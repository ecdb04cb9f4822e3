package cmd

import (
	"fmt"
	"os"
	"slices"

	"animarr/internal/parse"
	"animarr/internal/uid"

	"github.com/spf13/cobra"
)

var episodeCmd = &cobra.Command{
	Use:   "episode <uid> <episodes>",
	Short: "List the streams of one or more episodes",
	Long: `List the streams of one or more episodes.

Episodes are picked by number: "3" is the third episode, "1-3,7"
a range plus a single one.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		app, err := startApp(ctx)
		if err != nil {
			fmt.Println("Failed to start:", err)
			os.Exit(1)
		}
		defer app.shutdown(ctx)

		id := uid.UID(args[0])

		a, err := app.engine.Anime(ctx, id)
		if err != nil {
			fmt.Printf("Failed to get anime %s: %v\n", id, err)
			return
		}

		count, err := a.EpisodeCount(ctx)
		if err != nil {
			fmt.Printf("Failed to get the episode count of %s: %v\n", id, err)
			return
		}

		selected, err := parse.EpisodeSelection(args[1], count)
		if err != nil {
			fmt.Printf("Failed to parse episode selection %q: %v\n", args[1], err)
			return
		}
		slices.Sort(selected)

		for _, number := range selected {
			ep, err := app.engine.Episode(ctx, id, number-1)
			if err != nil {
				fmt.Printf("Failed to get episode %d: %v\n", number, err)
				continue
			}

			fmt.Printf("Episode %d\n", number)

			if poster, err := ep.Poster(ctx); err == nil && poster != "" {
				fmt.Println("  Poster:", poster)
			}

			streams, err := ep.Streams(ctx)
			if err != nil {
				fmt.Printf("  Failed to resolve streams: %v\n", err)
				continue
			}
			if len(streams) == 0 {
				fmt.Println("  No streams found")
				continue
			}

			for i, stream := range streams {
				fmt.Printf("  %d) %s\n", i+1, stream.Name())
			}
		}
	},
}
