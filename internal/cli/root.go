package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/confidant/internal/access"
	"github.com/lazypower/confidant/internal/config"
	"github.com/lazypower/confidant/internal/directory"
	"github.com/lazypower/confidant/internal/engine"
	"github.com/lazypower/confidant/internal/logging"
	"github.com/lazypower/confidant/internal/search"
	"github.com/lazypower/confidant/internal/store"
)

var (
	configPath string
	actAs      string
)

var rootCmd = &cobra.Command{
	Use:   "confidant",
	Short: "Tiered personal memory with a passphrase gate",
	Long: "Confidant files every message into one of five sensitivity tiers, keeps an append-only log per person, " +
		"and only reveals secret memories for ten minutes after the owner unlocks them.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.confidant/config.toml)")
	rootCmd.PersistentFlags().StringVar(&actAs, "as", "", "principal to act as (phone number or handle)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(importCmd)

	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(recentCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(forgetCmd)

	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(auditCmd)
}

// app is everything a command needs, opened from config.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	db     *store.DB
	eng    *engine.Engine
}

func (a *app) Close() {
	a.eng.Stop()
	a.db.Close()
	a.logger.Sync()
}

// openApp loads config, opens the database and wires the engine.
func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, err
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	key, err := cfg.SealKey()
	if err == nil {
		err = db.SetSealKey(key)
	}
	if err != nil {
		db.Close()
		return nil, err
	}

	dir, err := directory.LoadFile(cfg.Directory.Path)
	if err != nil {
		db.Close()
		return nil, err
	}

	eng, err := engine.New(db, dir, engineConfig(cfg), logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, db: db, eng: eng}, nil
}

func engineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		UnlockWindow:   cfg.Access.UnlockWindow.Duration,
		VerifyInterval: cfg.Access.VerifyInterval.Duration,
		VerifyBurst:    cfg.Access.VerifyBurst,
		HashParams: access.Params{
			Time:    cfg.Access.ArgonTime,
			Memory:  cfg.Access.ArgonMemoryKiB,
			Threads: cfg.Access.ArgonThreads,
			KeyLen:  access.DefaultParams.KeyLen,
		},
		MinScore: cfg.Search.MinScore,
		Search: search.Config{
			DefaultLimit: cfg.Search.DefaultLimit,
			MaxLimit:     cfg.Search.MaxLimit,
			Concurrency:  cfg.Search.Concurrency,
		},
		CleanupInterval: cfg.Access.CleanupInterval.Duration,
	}
}

// principal returns the --as principal, which every per-person command needs.
func principal() (string, error) {
	if actAs == "" {
		return "", fmt.Errorf("--as is required")
	}
	return directory.NormalizePrincipal(actAs)
}
