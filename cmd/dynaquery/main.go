// Command dynaquery creates tables, loads items and runs filter-document
// queries against DynamoDB from the command line.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
