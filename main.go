package main

import "github.com/andresmejia3/gazewatch/cmd"

func main() {
	cmd.Execute()
}
