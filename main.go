package main

import "dwflow/cmd"

func main() {
	cmd.Execute()
}
