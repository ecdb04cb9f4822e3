package cmd

import (
	"fmt"
	"os"
	"strconv"

	"animarr/internal/domain"
	"animarr/internal/uid"

	"github.com/spf13/cobra"
)

var streamCmd = &cobra.Command{
	Use:   "stream <uid> <episode>",
	Short: "Resolve playable links for an episode",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		number, err := strconv.Atoi(args[1])
		if err != nil || number < 1 {
			fmt.Println("Invalid episode number:", args[1])
			return
		}

		app, err := startApp(ctx)
		if err != nil {
			fmt.Println("Failed to start:", err)
			os.Exit(1)
		}
		defer app.shutdown(ctx)

		id := uid.UID(args[0])

		var stream domain.Stream
		if streamIndex > 0 {
			stream, err = app.engine.Stream(ctx, id, number-1, streamIndex-1)
		} else {
			stream, err = app.engine.WorkingStream(ctx, id, number-1)
		}
		if err != nil {
			fmt.Printf("Failed to get a stream for episode %d of %s: %v\n", number, id, err)
			return
		}

		links, err := stream.Links(ctx)
		if err != nil {
			fmt.Printf("Failed to resolve links from %s: %v\n", stream.Name(), err)
			return
		}
		if len(links) == 0 {
			fmt.Printf("No playable links on %s\n", stream.Name())
			return
		}

		fmt.Println("Host:", stream.Name())
		if poster, err := stream.Poster(ctx); err == nil && poster != "" {
			fmt.Println("Poster:", poster)
		}
		for _, link := range links {
			fmt.Println(link)
		}
	},
}
