package main

import (
	"os"

	"stracefuzz/cmd"
	"stracefuzz/pkg/child"
)

func main() {
	// Every re-exec of this binary as the tracee helper must be caught
	// before any normal flag parsing happens (child.IsTraceeHelperInvocation's
	// doc comment).
	if child.IsTraceeHelperInvocation() {
		child.RunTraceeHelper(os.Args[1:])
		os.Exit(1)
	}
	cmd.Execute()
}
