// The main package for the directory-scraper executable.
package main

import (
	"github.com/JakeFAU/directory-scraper/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
