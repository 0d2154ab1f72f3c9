// Package main is the entry point for the regsearch CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/regsearch/cmd/regsearch/cmd"
	rerrors "github.com/Aman-CERP/regsearch/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, rerrors.FormatForCLI(err))
		os.Exit(1)
	}
}
