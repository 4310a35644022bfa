package main

import "github.com/hearthkit/hearth/cmd"

func main() {
	cmd.Execute()
}
