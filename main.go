// The main package for the animal-gallery executable.
package main

import (
	"os"

	"github.com/JakeFAU/animal-gallery/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	os.Exit(cmd.Execute())
}
