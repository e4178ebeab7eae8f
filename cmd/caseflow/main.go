// Command caseflow runs the workflow engine, SLA monitor and trigger API.
package main

import (
	"os"

	"github.com/petrijr/caseflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
