package main

import "github.com/agentic-research/eaglemeta/cmd"

func main() {
	cmd.Execute()
}
