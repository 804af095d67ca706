package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ztpnode",
		Short:         "Zero-trust quorum over a simulated permissioned network",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !quiet {
				banner()
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to config file (default: configs/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every protocol step")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "No banner")

	rootCmd.AddCommand(newElectCmd(), newSimulateCmd())
	return rootCmd
}

func banner() {
	pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("ZTP ", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("Quorum", pterm.FgDarkGray.ToStyle()),
	).Render()
}

// newLogger routes slog through the pterm logger.
func newLogger() *slog.Logger {
	if verbose {
		pterm.DefaultLogger.Level = pterm.LogLevelDebug
	}
	handler := pterm.NewSlogHandler(&pterm.DefaultLogger)
	return slog.New(handler)
}
