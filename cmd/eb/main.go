package main

import (
	"fmt"
	"os"

	"github.com/bcrosbie/evalboard/internal/cli"
)

func main() {
	if err := cli.Execute("eb"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
