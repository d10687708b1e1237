// Command meshnode runs one host in the FIPA agent mesh.
package main

import (
	"fmt"
	"os"

	"github.com/greenpdx/fipa-wasm/cmd/meshnode/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
