package cmd

import (
	"fmt"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/blockchain_listener"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Executa uma passada do reconciliador e sai",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		listener := blockchain_listener.NewBlockchainListener(a.coord, a.flows, cfg.Reconciler)
		sum, err := listener.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "examinados=%d concluídos=%d falhos=%d abertos=%d erros=%d\n",
			sum.Scanned, sum.Completed, sum.Failed, sum.Open, sum.Errors)
		return nil
	},
}
