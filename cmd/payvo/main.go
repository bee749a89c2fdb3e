package main

import "github.com/Payvo-ai/payvo-middleware-sub001/cmd/payvo/cmd"

func main() {
	cmd.Execute()
}
