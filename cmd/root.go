package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"animarr/internal/browser"
	"animarr/internal/buildinfo"
	"animarr/internal/config"
	"animarr/internal/engine"
	"animarr/internal/logger"
	"animarr/internal/request"
	"animarr/internal/store"
	"animarr/internal/urlpool"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "animarr",
	Short: "Find anime metadata and streams across scraped sources.",
	Long: `Find anime metadata and streams across scraped sources.

Provide a configuration file using one of the following methods:
1. Use the --config <path> or -c <path> flag.
2. Place a config.yaml file in the default user configuration directory (e.g., ~/.config/animarr/).
3. Place a config.yaml file a folder inside your home directory (e.g., ~/.animarr/).
4. Place a config.yaml file in the directory of the binary.

For more information and examples, visit https://github.com/animarr/animarr`,
}

func init() {
	initRootFlags()
	initSearchFlags()
	initInfoFlags()
	initStreamFlags()
	initIndexFlags()
	initUserFlags()

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(episodeCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(userCmd)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// app is everything a command needs, wired together from the config.
type app struct {
	cfg    *config.AppConfig
	log    logger.Logger
	store  *store.Store
	chrome *browser.Client
	engine *engine.Engine
}

func startApp(ctx context.Context) (*app, error) {
	cfg := config.New(configPath, buildinfo.Version)
	log := logger.New(cfg.Config)

	if err := request.ConfigureProxy(cfg.Config.ProxyURL); err != nil {
		return nil, fmt.Errorf("failed to configure proxy: %w", err)
	}
	request.ConfigureTimeout(time.Duration(cfg.Config.RequestTimeout) * time.Second)

	st, err := store.New(ctx, cfg.Config.MongoURI, cfg.Config.MongoDatabase,
		store.WithCacheSize(cfg.Config.CacheSize),
		store.WithCacheTTL(time.Duration(cfg.Config.CacheTTL)*time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	// pools keep their resolved site mirrors across runs
	urlpool.SetStore(st)

	chrome := browser.New(cfg.Config.ChromeWS,
		browser.WithProxy(cfg.Config.ProxyURL),
		browser.WithSessions(int64(cfg.Config.BrowserSessions)),
	)

	return &app{
		cfg:    cfg,
		log:    log,
		store:  st,
		chrome: chrome,
		engine: engine.New(st, log, engine.WithRenderer(chrome)),
	}, nil
}

// shutdown flushes whatever the run dirtied and releases the clients.
func (a *app) shutdown(ctx context.Context) {
	if err := a.engine.SaveDirty(ctx); err != nil {
		a.log.Error().Err(err).Msg("failed to flush dirty anime")
	}

	a.chrome.Close()

	if err := a.store.Close(ctx); err != nil {
		a.log.Error().Err(err).Msg("failed to close store")
	}
}
