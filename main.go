package main

import (
	"switchboard/cmd"
	"switchboard/internal/app"
)

// version can be set during build with -ldflags
var version = "dev"

func main() {
	app.Version = version
	cmd.SetVersion(version)
	cmd.Execute()
}
