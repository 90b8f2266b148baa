package main

import (
	"fmt"
	"log"
	"os"

	"mirage/internal/util"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	verbose    bool
	workers    int
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		util.Warnf("load .env: %v", err)
	}
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mirage: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "mirage",
		Short:         "Generate synthetic tables that reproduce a workload's predicate selectivities",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.yaml", "path to config file")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log partition dumps and per-threshold details")
	root.PersistentFlags().IntVar(&flags.workers, "workers", 0, "parallel workers (0 = GOMAXPROCS)")

	root.AddCommand(newGenerateCmd(flags), newInspectCmd(flags))
	return root
}
