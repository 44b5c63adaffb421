package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mdale/vistrain/config"
	"github.com/mdale/vistrain/trainer"
	"github.com/mdale/vistrain/web"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "train a model from the experiment config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		fmt.Print(cfg)

		t, err := trainer.New(cfg)
		if err != nil {
			return err
		}
		if monitorAddr != "" {
			go func() {
				if err := web.NewServer(t).ListenAndServe(monitorAddr); err != nil {
					logrus.Error("monitor: ", err)
				}
			}()
		}
		res, err := t.Run()
		if err != nil {
			return err
		}
		trainer.PrintSummary(res)
		return nil
	},
}

func init() {
	trainCmd.Flags().StringVar(&monitorAddr, "monitor", "", "serve the live training monitor on this address")
}
