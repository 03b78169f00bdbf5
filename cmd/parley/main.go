package main

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Chat with a local model from your terminal",
	Long: `parley is a terminal client for ollama-style chat backends.

It keeps one conversation per session, streams replies incrementally and
supports regenerating or aborting a turn without corrupting the history.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		return initLogging(viper.GetString("log-level"))
	},
}

func initLogging(levelName string) error {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)

	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return nil
}

func init() {
	// a .env next to the binary is a convenience for local setups
	_ = godotenv.Load()

	rootCmd.PersistentFlags().String("server", "http://localhost:8000", "base URL of the chat backend")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")

	viper.SetEnvPrefix("PARLEY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(newChatCommand())
	rootCmd.AddCommand(newModelsCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
