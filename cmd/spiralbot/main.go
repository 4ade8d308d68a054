package main

import (
	"github.com/rustyeddy/spiralbot/internal/cli"
)

func main() {
	cli.Execute()
}
