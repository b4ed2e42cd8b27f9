package main

import "github.com/edgelab/appaudit/cmd"

func main() {
	cmd.Execute()
}
