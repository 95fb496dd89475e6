package main

import "github.com/ayusman/mudra/internal/cli"

func main() {
	cli.Execute()
}
