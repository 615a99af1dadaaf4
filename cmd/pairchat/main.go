package main

import "github.com/nfrund/pairchat/cmd/pairchat/cmd"

func main() {
	cmd.Execute()
}
