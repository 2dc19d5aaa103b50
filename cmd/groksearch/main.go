package main

import "github.com/gudastudio/groksearch/cmd/groksearch/cli"

func main() {
	cli.Execute()
}
