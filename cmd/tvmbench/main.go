// cmd/tvmbench/main.go
package main

import (
	cmd "github.com/mwiater/tvmbench/internal/commands"
)

// Populated by -ldflags at release build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	setVersionInfo = cmd.SetVersionInfo
	executeCmd     = cmd.Execute
)

// main starts the tvmbench CLI by delegating to the cobra root command.
func main() {
	setVersionInfo(version, commit, date)
	executeCmd()
}
