package main

import (
	"github.com/robotalks/cul.go/pkg/cli/sh"
	"github.com/robotalks/cul.go/pkg/env"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
