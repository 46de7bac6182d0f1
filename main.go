package main

import "github.com/wireline-io/wireline/cmd"

func main() {
	cmd.Execute()
}
