// Command dapbroker drives a debug adapter subprocess through the DAP
// startup handshake and exposes launch/breakpoint/step/locals operations,
// standing in for the RPC surface a real embedding would expose instead.
package main

import "dapbroker/cmd/dapbroker/commands"

func main() {
	commands.Execute()
}
