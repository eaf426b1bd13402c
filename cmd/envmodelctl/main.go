package main

import "github.com/mbp-platform/envmodel/internal/cli"

func main() {
	cli.Execute()
}
