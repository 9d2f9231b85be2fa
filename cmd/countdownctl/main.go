package main

import "github.com/oshokin/countdown/cmd/countdownctl/cmd"

func main() {
	cmd.Execute()
}
