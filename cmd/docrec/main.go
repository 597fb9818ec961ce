package main

import "github.com/MeKo-Tech/docrec/cmd/docrec/cmd"

func main() {
	cmd.Execute()
}
