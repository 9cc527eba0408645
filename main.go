package main

import (
	"fmt"
	"os"

	"github.com/frectonz/penny/api"
	"github.com/frectonz/penny/cmd"
	"github.com/frectonz/penny/revision"
)

func main() {
	if len(os.Args) == 2 {
		switch os.Args[1] {
		case "--version", "-v", "version", "v", "ver":
			fmt.Println(revision.GetVersion())
			os.Exit(0)
		}
	}
	api.Version = revision.GetVersion()
	os.Exit(cmd.Execute())
}
