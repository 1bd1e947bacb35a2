package main

import "family-sos-backend/cmd"

func main() {
	cmd.Run()
}
