// Package cli is the meshcall command line client.
package cli

import (
	"os"

	"github.com/dkeye/MeshCall/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagConfig    string
	flagServer    string
	flagTransport string
	flagVerbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "meshcall",
	Short: "Join mesh video calls from the terminal",
	Long: `meshcall joins a room on a MeshCall signaling server and negotiates a direct
peer connection with every other participant. Local media is a synthetic audio
stream, so it runs headless.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if flagVerbose {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "config/config.client.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "signaling server base url, e.g. ws://localhost:8080")
	rootCmd.PersistentFlags().StringVar(&flagTransport, "transport", "", "signaling binding: relay or presence")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(joinCmd, roomCmd)
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("meshcall")
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command line overrides. The file's
// log_level applies unless --verbose asked for debug output.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagServer != "" {
		cfg.ServerURL = flagServer
	}
	if flagTransport != "" {
		cfg.Transport = flagTransport
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !flagVerbose {
		zerolog.SetGlobalLevel(cfg.Level())
	}
	return cfg, nil
}
