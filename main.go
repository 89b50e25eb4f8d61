// The main package for the webinsight executable.
package main

import (
	"github.com/pagelens/webinsight/cmd"
)

func main() {
	cmd.Execute()
}
