package main

import "github.com/Daniel-Schutz/Ahoy-Marketplace/cmd"

func main() {
	cmd.Execute()
}
