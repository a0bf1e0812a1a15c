package main

import "github.com/rudransh-shrivastava/peerdrop/internal/client/cmd"

func main() {
	cmd.Execute()
}
