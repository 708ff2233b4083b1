// Command verifactuctl is the operator tool for the compliance pipeline:
// it canonicalizes documents offline, audits chains, runs a retry sweep on
// demand and mints operator tokens.
package main

import (
	"fmt"
	"os"

	"github.com/invoices/backend/internal/infrastructure/config"
)

var version = "dev"

func main() {
	if err := newRootCmd(config.Load).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
