// Command mallard runs the mallard admin daemon: a small process that hosts
// the shared cache/resilience/tracing/metrics infrastructure a Go program
// wires around exchange.HTTPClient, and exposes it over /healthz, /metrics
// and /selfcheck. The middleware chain itself is a library, imported
// directly by the application that needs auth-token injection, caching, and
// failure reporting — this binary is operational tooling around it, not a
// proxy in the request path.
package main

import (
	"fmt"
	"os"

	"github.com/allaspectsdev/mallard/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		cmdStart(os.Args[2:])
	case "stop":
		cmdStop()
	case "status":
		cmdStatus()
	case "keys":
		cmdKeys(os.Args[2:])
	case "init-config":
		cmdInitConfig()
	case "version":
		fmt.Println(version.String())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: mallard <command> [options]

Commands:
  start         Start the mallard admin daemon
  stop          Stop the running daemon
  status        Show daemon status
  keys          Manage seed refresh credentials (get|set|delete <realm>)
  init-config   Generate default config file
  version       Print version information
  help          Show this help message

Options:
  --foreground  Run in foreground (with 'start')`)
}
