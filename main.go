// The main package for the crawl-frontier executable.
package main

import (
	"github.com/JakeFAU/crawl-frontier/cmd"
)

func main() {
	cmd.Execute()
}
