package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is the build version, overridden at link time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "payvo",
	Short: "Payvo is a payment routing middleware",
	Long: `A pre-tap merchant category prediction and payment routing middleware.
It fuses location, terminal, and wireless fingerprint signals into a merchant
category prediction, selects a card, and provisions wallet tokens for the tap.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
