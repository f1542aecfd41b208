package main

import "github.com/dkeye/MeshCall/internal/cli"

func main() {
	cli.Execute()
}
