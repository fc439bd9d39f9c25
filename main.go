package main

import (
	"os"

	"github.com/pollen-kv/devtask/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
