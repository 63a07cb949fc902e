package main

import "webradio/cmd"

func main() {
	cmd.Execute()
}
