package main

import (
	"fmt"
	"os"
)

func main() {
	root := newRootCommand()

	root.AddCommand(newServeCommand())
	root.AddCommand(newSyncCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newCancelCommand())
	root.AddCommand(newMigrateCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
