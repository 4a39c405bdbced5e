package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "raymondo"}

	root.AddCommand(serveCMD(), ingestCMD(), migrateCMD(), sweepCMD())
	_ = root.Execute()
}
