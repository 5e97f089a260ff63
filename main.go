package main

import "github.com/adamgarcia4/goLearning/chandylamport/cmd"

func main() {
	cmd.Execute()
}
