package main

import (
	"github.com/nolanmak/ThesisApp-sub002/internal/cli"
)

func main() {
	cli.Execute()
}
