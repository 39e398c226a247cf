package main

import "github.com/quotabar/quotabar/internal/cli"

func main() {
	cli.Execute()
}
