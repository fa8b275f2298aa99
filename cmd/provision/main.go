package main

import "github.com/nimbusvpn/provision/cmd/provision/cmd"

func main() {
	cmd.Execute()
}
