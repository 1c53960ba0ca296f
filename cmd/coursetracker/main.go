package main

import (
	"coursetracker/cmd/coursetracker/commands"
	"coursetracker/lib/osutil"
)

func main() {
	commands.ExecuteContext(osutil.SignalContext())
}
