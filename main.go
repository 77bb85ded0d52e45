package main

import "github.com/dojohq/booking-management/cmd"

func main() {
	cmd.Execute()
}
