package main

import "github.com/steinarvk/natours/lib/cli"

func main() {
	cli.Main()
}
