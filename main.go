package main

import (
	"github.com/parley-labs/parley-node/internal/cmd"
)

func main() {
	cmd.Execute()
}
