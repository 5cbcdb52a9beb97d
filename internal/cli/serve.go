package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/confidant/internal/commands"
	"github.com/lazypower/confidant/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Server.Token == "" && a.cfg.Server.Bind != "127.0.0.1" && a.cfg.Server.Bind != "localhost" {
		a.logger.Warn("serving without a token on a non-loopback address", zap.String("bind", a.cfg.Server.Bind))
	}

	a.eng.StartCleanupTimer()

	dispatcher := commands.New(a.eng, commands.WithLogger(a.logger))
	srv := server.New(a.eng, dispatcher, VersionString(),
		server.WithToken(a.cfg.Server.Token),
		server.WithLogger(a.logger))
	addr := a.cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("confidant serving",
			zap.String("addr", addr),
			zap.String("db", a.db.Path),
			zap.Bool("sealing", a.db.Sealing()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		return err
	}
	a.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
