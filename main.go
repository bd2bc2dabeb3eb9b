package main

import "github.com/conneroisu/gpt/cmd"

func main() {
	cmd.Execute()
}
