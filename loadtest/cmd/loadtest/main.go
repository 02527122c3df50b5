// Command loadtest drives the arena HTTP API with simulated players.
//
//   - match: players queue up, get paired, vote and resolve their matches
//   - churn: players flip in and out of the queue as fast as allowed
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "match":
		runMatch(os.Args[2:])
	case "churn":
		runChurn(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  match       Full match lifecycle: queue, pair, vote, resolve")
	fmt.Println("  churn       Queue churn: players toggle in and out repeatedly")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
