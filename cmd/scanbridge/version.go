package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of scanbridge",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scanbridge %s\n", version)
			fmt.Fprintf(out, "  Commit:    %s\n", commit)
			fmt.Fprintf(out, "  Built:     %s\n", buildDate)
			fmt.Fprintf(out, "  Arch:      %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
