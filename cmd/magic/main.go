package main

import "github.com/marcus/makemagic/cmd/magic/commands"

func main() {
	commands.Execute()
}
