package main

import "github.com/gkiler/visualization-for-preds/cmd"

func main() {
	cmd.Execute()
}
