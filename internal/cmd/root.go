// Package cmd provides the CLI commands for the image-chat client.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	defaults "github.com/esannihith/Image-meta-attribute-ai/config"
	"github.com/esannihith/Image-meta-attribute-ai/internal/config"
	"github.com/esannihith/Image-meta-attribute-ai/internal/logging"
)

var (
	// Global flags
	serverURL  string
	configPath string
	debug      bool
	logLevel   string
	logFile    string
	jsonLogs   bool

	// Loaded configuration
	cfg *config.Config
	// cfgPath is the path the configuration was loaded from.
	cfgPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "imagechat",
	Short: "Chat with an image-analysis backend about your photos",
	Long: `Imagechat uploads an image to an analysis backend and lets you ask
questions about it over a persistent realtime channel.

The backend extracts the image's metadata (EXIF, GPS, camera settings)
and answers questions conversationally.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		cfgPath = configPath
		if cfgPath == "" {
			cfgPath = config.DefaultConfigPath()
			// First run: materialize the embedded defaults so the
			// user has a file to edit.
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if werr := os.WriteFile(cfgPath, defaults.DefaultConfigYAML, 0644); werr == nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Wrote default configuration to %s\n", cfgPath)
				}
			}
		}
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration from %s: %w", cfgPath, err)
		}

		// Priority: --log-level flag > --debug flag > config > default (info)
		effectiveLogLevel := cfg.Log.Level
		if logLevel != "" {
			effectiveLogLevel = logLevel
		} else if debug {
			effectiveLogLevel = "debug"
		}

		effectiveLogFile := cfg.Log.File
		if logFile != "" {
			effectiveLogFile = logFile
		}
		var fileLog *logging.FileLogConfig
		if effectiveLogFile != "" {
			fl := logging.DefaultFileLogConfig()
			fl.Path = effectiveLogFile
			if cfg.Log.MaxSizeMB > 0 {
				fl.MaxSizeMB = cfg.Log.MaxSizeMB
			}
			if cfg.Log.MaxBackups > 0 {
				fl.MaxBackups = cfg.Log.MaxBackups
			}
			fileLog = &fl
		}

		if err := logging.Initialize(logging.Config{
			Level:   effectiveLogLevel,
			FileLog: fileLog,
			JSON:    jsonLogs || cfg.Log.JSON,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		if serverURL != "" {
			cfg.Server.URL = serverURL
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Analysis backend base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (default: ~/.imagechatrc)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to console)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Write logs in JSON format")
}
