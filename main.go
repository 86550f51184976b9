package main

import "github.com/agentic-research/dotted/cmd"

func main() {
	cmd.Execute()
}
