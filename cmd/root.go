// Package cmd provides the command-line interface for Tango.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use: "tango",
	Short: "Tango simulates systems built from atomic guarded actions, " +
		"scheduled cycle by cycle.",
	Long: `Tango simulates systems built from atomic guarded actions. ` +
		`Transactions and methods declare readiness and conflicts; every ` +
		`cycle a scheduler picks a maximal conflict-free set to fire.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
