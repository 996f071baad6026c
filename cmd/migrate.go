package cmd

import (
	"fmt"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/storage"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Aplica as migrações do banco de registros de fluxo",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.Driver == "memory" {
			return fmt.Errorf("driver de banco memory não tem migrações")
		}
		db, err := storage.NewDB(cfg.GetDatabaseConnectionString())
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := storage.Migrate(db.DB.DB)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "migrações aplicadas=%d\n", n)
		return nil
	},
}
