package main

import "github.com/cadenza-av/cadenza/cmd"

func main() {
	cmd.Execute()
}
