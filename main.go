package main

import (
	"os"

	"github.com/webitel/corehub/cmd"
)

func main() {
	os.Exit(cmd.Run(os.Args))
}
