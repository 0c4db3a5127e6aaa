package main

import "github.com/kozaktomas/reunite/cmd"

func main() {
	cmd.Execute()
}
