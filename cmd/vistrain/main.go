// Command vistrain trains and evaluates image classification models from a
// YAML experiment configuration.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	monitorAddr string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "vistrain",
	Short: "image classification training with knowledge distillation",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "cfg", "", "experiment configuration file name")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.MarkPersistentFlagRequired("cfg")
	rootCmd.AddCommand(trainCmd, evalCmd)
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
