package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var log = logrus.New()

func main() {
	root := &cobra.Command{
		Use:           "dvstrain",
		Short:         "Train and inspect orientation sequence networks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var verbose bool
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every training step")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}
	}
	root.AddCommand(trainCmd(), planCmd(), evalCmd())

	if err := root.Execute(); err != nil {
		log.Errorf("%+v", err)
		os.Exit(1)
	}
}
