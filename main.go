package main

import "github.com/tangosim/tango/cmd"

func main() {
	cmd.Execute()
}
