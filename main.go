// The main package for the webannotate executable.
package main

import (
	"github.com/JakeFAU/webannotate/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
