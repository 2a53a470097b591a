package main

import "github.com/luna-labs/accuracy.report/internal/cli"

func main() {
	cli.Execute()
}
