package cmd

import (
	"context"
	"fmt"
	"os"

	"animarr/internal/domain"
	"animarr/internal/uid"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <uid>",
	Short: "Show what is known about an anime",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		app, err := startApp(ctx)
		if err != nil {
			fmt.Println("Failed to start:", err)
			os.Exit(1)
		}
		defer app.shutdown(ctx)

		id := uid.UID(args[0])

		if infoGroup {
			g, err := app.engine.Group(ctx, id)
			if err != nil {
				fmt.Printf("Failed to get the group of %s: %v\n", id, err)
				return
			}

			printAnime(ctx, g)
			fmt.Println("Members:")
			for _, u := range g.UIDs() {
				fmt.Println(" ", u)
			}
			return
		}

		a, err := app.engine.Anime(ctx, id)
		if err != nil {
			fmt.Printf("Failed to get anime %s: %v\n", id, err)
			return
		}

		if err := a.Preload(ctx); err != nil {
			app.log.Debug().Err(err).Msgf("failed to preload %s", id)
		}

		printAnime(ctx, a)
	},
}

// printAnime renders what could be resolved, attributes the site refuses
// to give up are simply left out.
func printAnime(ctx context.Context, a domain.Anime) {
	u, err := a.UID(ctx)
	if err != nil {
		fmt.Println("Failed to identify anime:", err)
		return
	}
	fmt.Println("UID:", u)

	if title, err := a.Title(ctx); err == nil {
		fmt.Println("Title:", title)
	}
	if lang, err := a.Language(ctx); err == nil {
		fmt.Println("Language:", lang)
	}
	if dubbed, err := a.Dubbed(ctx); err == nil {
		fmt.Println("Dubbed:", dubbed)
	}
	if count, err := a.EpisodeCount(ctx); err == nil {
		fmt.Println("Episodes:", count)
	}
	if thumbnail, err := a.Thumbnail(ctx); err == nil && thumbnail != "" {
		fmt.Println("Thumbnail:", thumbnail)
	}
}
