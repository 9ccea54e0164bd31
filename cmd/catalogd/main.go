// Command catalogd runs the catalog ingestion service and its operator tools.
package main

import (
	"fmt"
	"os"

	"github.com/tbourn/go-catalog-ingest/internal/cli"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "catalogd:", err)
		os.Exit(1)
	}
}
