// Command sessiond runs the code-execution session service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set via -ldflags "-X main.version=..." at release build time.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "sessiond",
		Short: "sessiond hosts long-lived, isolated code-execution sessions over HTTP",
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newTokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
