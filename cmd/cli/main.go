package main

import (
	"github.com/mchmarny/txrisk/pkg/cli"
)

func main() {
	cli.Execute()
}
