package main

import "github.com/Uitware/heydeploy/pkg/cmd"

func main() {
	cmd.Execute()
}
