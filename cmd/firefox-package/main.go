package main

import "github.com/oshokin/firefox-package/cmd/firefox-package/cmd"

func main() {
	cmd.Execute()
}
