package main

import "github.com/gopatchy/lxnet/cmd"

func main() {
	cmd.Execute()
}
