package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/blockchain_listener"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/handlers"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/ledger"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/logger"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Sobe a API HTTP e o reconciliador agendado",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go reconnectOnSignal(ctx, hup, a.ledgers)

		if cfg.Reconciler.Enabled {
			listener := blockchain_listener.NewBlockchainListener(a.coord, a.flows, cfg.Reconciler)
			if err := listener.Start(ctx); err != nil {
				return err
			}
			defer listener.Stop()
		}

		srv := &http.Server{
			Addr:              cfg.GetServerAddress(),
			Handler:           handlers.NewRouter(a.coord),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("Servidor backend rodando", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Info("Encerrando servidor")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// reconnectOnSignal recria a conexão com o ledger a cada SIGHUP, por exemplo
// após trocar a rede ou a chave do signatário.
func reconnectOnSignal(ctx context.Context, signals <-chan os.Signal, ledgers *ledger.Holder) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			if err := ledgers.Reconnect(ctx); err != nil {
				logger.Error("Falha ao reconectar ao ledger", "error", err)
			}
		}
	}
}
