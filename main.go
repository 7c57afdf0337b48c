package main

import "github.com/colebaker/chatwire/cmd"

func main() {
	cmd.Execute()
}
