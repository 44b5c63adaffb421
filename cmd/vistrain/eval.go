package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mdale/vistrain/config"
	"github.com/mdale/vistrain/trainer"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "evaluate the saved checkpoint on the validation set",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		top1, top5, err := trainer.Evaluate(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("Top-1 Accuracy: %.2f Top-5 Accuracy: %.2f\n", top1, top5)
		return nil
	},
}
