package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Publish synthetic sensor readings and tank levels over MQTT",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(); err != nil {
			return fmt.Errorf("config load failed: %w", err)
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("simulator failed")
		os.Exit(1)
	}
}
