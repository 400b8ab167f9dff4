// Command natscore is a minimal demo CLI over the natscore client:
// connect, publish, subscribe, and request, plus an interactive REPL mode.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
