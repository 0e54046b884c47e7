package main

import "github.com/encodeous/aramid/cmd"

func main() {
	cmd.Execute()
}
