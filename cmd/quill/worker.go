package main

import (
	"os"

	"github.com/quill-lang/quill/runner"
	"github.com/spf13/cobra"
)

// workerCmd is started by process workers; it serves jobs on stdio.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Serve run jobs over stdin and stdout",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runner.ServeStream(cmd.Context(), os.Stdin, os.Stdout)
	},
}
