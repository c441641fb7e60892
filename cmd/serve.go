package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	mdxerrors "github.com/conneroisu/mdxflow/internal/errors"
	"github.com/conneroisu/mdxflow/internal/server"
	"github.com/conneroisu/mdxflow/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the HTTP server with live reload",
	Long: `Start the HTTP server. It serves the render API, streamed document pages
under /docs/{id}, the document API under /api/docs, and pushes live reload
messages over /ws when components or documents change.

Examples:
  mdxflow serve                      # Serve on localhost:8080
  mdxflow serve --port 3000          # Serve on another port
  mdxflow serve --storage-driver file`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().StringSlice("components", nil, "Component directories")
	serveCmd.Flags().Bool("no-watch", false, "Don't watch component directories")
	serveCmd.Flags().String("storage-driver", "", "Document storage driver (memory, file)")

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("components.dirs", serveCmd.Flags().Lookup("components"))
	_ = viper.BindPFlag("storage.driver", serveCmd.Flags().Lookup("storage-driver"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if noWatch, _ := cmd.Flags().GetBool("no-watch"); noWatch {
		cfg.Components.Watch = false
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn(context.Background(), err, "Tracing shutdown failed")
		}
	}()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, server.Dependencies{Store: st, Logger: logger})
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer func() { _ = srv.Shutdown(context.Background()) }()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", cfg.Server.Addr())
	if err := srv.Start(ctx); err != nil {
		suggestions := mdxerrors.ServerStartError(err, cfg.Server.Port)
		return mdxerrors.NewEnhancedError("Failed to start server", err, suggestions)
	}
	return nil
}
