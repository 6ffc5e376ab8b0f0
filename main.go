package main

import "github.com/mailpool/relay/cmd"

func main() {
	cmd.Execute()
}
