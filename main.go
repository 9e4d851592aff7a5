package main

import (
	"os"

	"github.com/mensylisir/xmexec/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
