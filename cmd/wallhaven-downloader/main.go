package main

import "go-wallhaven-download/cmd/wallhaven-downloader/cmd"

func main() {
	cmd.Execute()
}
