package main

import "example.com/fleetwatch/services/telemetry/cmd"

func main() {
	cmd.Execute()
}
