package main

import "llmhub/cmd"

func main() {
	cmd.Execute()
}
