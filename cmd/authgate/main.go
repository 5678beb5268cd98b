package main

import (
	"github.com/authgate/authgate/internal/cli"
)

func main() {
	cli.Execute()
}
