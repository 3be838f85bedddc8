package main

import "crossmap/internal/cli"

func main() {
	cli.Execute()
}
