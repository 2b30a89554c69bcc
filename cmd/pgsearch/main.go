package main

import "github.com/elliot-woods/pgvector-search/internal/cli"

func main() {
	cli.Execute()
}
