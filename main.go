// The main package for the dockling executable.
package main

import (
	"github.com/JakeFAU/dockling/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
