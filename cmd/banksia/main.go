package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banksia-harness/banksia/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "banksia",
		Short: "Conformance test harness for CSIP-AUS utility servers",
		Long: `Banksia sits between a DER client under test and a CSIP-AUS (IEEE 2030.5)
utility server. It proxies the client's traffic, matches each request and
elapsed wait against the active test procedure's expected steps, drives the
server's admin API to set up DER controls, and verifies the resulting
database state against the procedure's criteria.`,
		Version: version,
	}

	root.AddCommand(
		commands.NewServeCmd(),
		commands.NewValidateCmd(),
		commands.NewProceduresCmd(),
		commands.NewStatusCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
