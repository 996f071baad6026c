package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/config"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/ledger"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/logger"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/marketplace"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/services"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/storage"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "ahoy",
	Short:         "Coordenador entre o marketplace Ahoy e o ledger de barcos",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "caminho do arquivo de configuração YAML")
	rootCmd.AddCommand(serveCmd, migrateCmd, reconcileCmd)
}

// Execute roda o comando escolhido na linha de comando.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Erro: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// app agrupa as dependências montadas a partir da configuração.
type app struct {
	cfg     *config.Config
	flows   storage.FlowStore
	ledgers *ledger.Holder
	coord   *services.Coordinator
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Falha ao encerrar recurso", "error", err)
		}
	}
}

func openFlowStore(cfg config.DatabaseConfig, dsn string) (storage.FlowStore, func() error, error) {
	if cfg.Driver == "memory" {
		logger.Warn("Usando armazenamento de fluxos em memória; registros se perdem ao reiniciar")
		return storage.NewMemoryFlowStore(), func() error { return nil }, nil
	}
	db, err := storage.NewDB(dsn)
	if err != nil {
		return nil, nil, err
	}
	if _, err := storage.Migrate(db.DB.DB); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, db.Close, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	flows, closeFlows, err := openFlowStore(cfg.Database, cfg.GetDatabaseConnectionString())
	if err != nil {
		return nil, err
	}
	a.flows = flows
	a.closers = append(a.closers, closeFlows)

	a.ledgers, err = ledger.NewHolder(ctx, func(ctx context.Context) (ledger.AssetLedger, error) {
		return ledger.Open(ctx, cfg.Ledger)
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("falha ao conectar ao ledger: %w", err)
	}
	a.closers = append(a.closers, a.ledgers.Close)
	logger.Info("Ledger conectado", "connection", a.ledgers.Current().Connection().String())

	mp := marketplace.New(cfg.Marketplace)
	a.coord = services.NewCoordinator(a.ledgers, a.flows, mp, cfg.Rental)
	return a, nil
}
