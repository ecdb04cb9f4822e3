package main

import (
	"animarr/cmd"
)

func main() {
	cmd.Execute()
}
