// Package main 是 ragctl 命令行工具的入口点。
package main

import (
	"os"

	"aec-rag-go/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
