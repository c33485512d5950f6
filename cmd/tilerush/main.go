package main

import "github.com/mcoot/tilerush/internal/cli"

func main() {
	cli.Execute()
}
