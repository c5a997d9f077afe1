package main

import "github.com/easyclase/liveclass/cmd"

func main() {
	cmd.Execute()
}
