package main

import "github.com/devc-org/devc/cmd"

func main() {
	cmd.Execute()
}
