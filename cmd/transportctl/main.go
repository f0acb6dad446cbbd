package main

import "churchtransport/internal/cli"

func main() {
	cli.Execute()
}
