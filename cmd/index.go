package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"animarr/internal/domain"
	"animarr/internal/index"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Crawl site listings into the search index",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()

		app, err := startApp(ctx)
		if err != nil {
			fmt.Println("Failed to start:", err)
			os.Exit(1)
		}
		defer app.shutdown(ctx)

		var scraper index.Scraper

		switch indexSource {
		case "gogoanime":
			if indexNew {
				scraper = index.NewGogoAnimeNew()
			} else {
				scraper = index.NewGogoAnimeFull()
			}
		default:
			fmt.Println("Invalid source:", indexSource)
			return
		}

		if !indexResume && !indexNew {
			meta := domain.IndexMeta{Name: scraper.Name(), Updated: time.Now().UTC()}
			if err := app.store.SetIndexMeta(ctx, meta); err != nil {
				fmt.Println("Failed to reset the crawl position:", err)
				return
			}
		}

		runner := index.NewRunner(app.store, app.log)

		if !indexWatch {
			if err := runner.Run(ctx, scraper); err != nil {
				fmt.Printf("Failed to crawl %s: %v\n", scraper.Name(), err)
			}
			return
		}

		if err := app.cfg.UpdateConfig(); err != nil {
			app.log.Error().Err(err).Msgf("error updating config")
		}

		// init dynamic config
		app.cfg.DynamicReload(app.log)

		app.log.Info().Msgf("starting to watch the %s listing", scraper.Name())

		ticker := time.NewTicker(time.Duration(app.cfg.Config.IndexInterval) * time.Minute)
		defer ticker.Stop()

		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		done := make(chan struct{})

		go func() {
			defer close(done)

			for {
				if err := runner.Run(watchCtx, scraper); err != nil {
					app.log.Error().Err(err).Msgf("failed to crawl %s", scraper.Name())
				}

				select {
				case <-watchCtx.Done():
					return
				case <-ticker.C:
				}
			}
		}()

		// set up a channel to catch signals for graceful shutdown
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

		fmt.Printf("received signal: %s, stopping crawl.\n", <-sigCh)
		cancel()
		<-done
	},
}
