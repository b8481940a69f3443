// repoctx assembles task-scoped code context for language-model agents.
//
// It indexes a repository into a symbol graph and a lexical index, then
// answers tasks with a token-budgeted bundle of the most relevant chunks
// plus the definitions they depend on.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/repoctx/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
