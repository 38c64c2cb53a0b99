// Command cafectl runs catalog, availability and queue operations against the configured store.
package main

import (
	"fmt"
	"os"

	"github.com/cafepos/cafepos/internal/shared"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", shared.UserSafeMessage(err))
		os.Exit(1)
	}
}
