// Package cmd provides the mdxflow command-line interface.
//
// Configuration is read, from highest to lowest priority, from command
// flags, MDXFLOW_<SECTION>_<OPTION> environment variables, the file
// named by --config or MDXFLOW_CONFIG_FILE, and .mdxflow.yml in the
// working directory.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/mdxflow/internal/config"
	mdxerrors "github.com/conneroisu/mdxflow/internal/errors"
	"github.com/conneroisu/mdxflow/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mdxflow",
	Short: "Render, stream and hydrate MDX documents",
	Long: `mdxflow compiles MDX documents against a registry of components and
renders them to HTML, either complete or streamed as suspense boundaries
resolve. Pages can be hydrated from the state embedded in their markup.

Quick Start:
  mdxflow render page.mdx          Render a document to stdout
  mdxflow serve                    Start the HTTP server with live reload
  mdxflow docs list                List stored documents
  mdxflow components               List registered components`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .mdxflow.yml, can also use MDXFLOW_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig points the global viper instance at the config file and the
// environment. A missing default file is not an error.
func initConfig() {
	file := cfgFile
	if file == "" {
		file = os.Getenv(config.EnvPrefix + "_CONFIG_FILE")
	}
	config.Init(viper.GetViper(), file)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		}
		return
	}
	fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
}

// loadConfig loads the configuration, attaching suggestions to failures.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		suggestions := mdxerrors.ConfigurationError(err, viper.ConfigFileUsed())
		return nil, mdxerrors.NewEnhancedError("Failed to load configuration", err, suggestions)
	}
	for _, w := range config.Validate(cfg).Warnings {
		fmt.Fprintln(os.Stderr, "Config warning:", w.Error())
	}
	return cfg, nil
}

// newLogger builds the logger described by cfg, writing to w.
func newLogger(cfg *config.Config, w io.Writer) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
		Output: w,
	})
}
