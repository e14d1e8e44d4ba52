package main

import (
	"github.com/pkgmng/pkgmng/pkg/cmd"
)

func main() {
	cmd.Execute()
}
