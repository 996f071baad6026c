package blockchain_listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/config"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/logger"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/services"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/storage"

	"github.com/robfig/cron/v3"
)

// Observer relê o ledger para um registro aberto. Implementado por services.Coordinator.
type Observer interface {
	Observe(ctx context.Context, rec models.FlowRecord) (services.Observation, error)
}

// BlockchainListener fecha registros de fluxo que ficaram em andamento ou
// pendentes, consultando o estado on-chain em intervalos agendados.
type BlockchainListener struct {
	observer Observer
	flows    storage.FlowStore
	cfg      config.ReconcilerConfig
	now      func() time.Time

	cron    *cron.Cron
	running sync.Mutex
}

// Summary resume uma passada do reconciliador.
type Summary struct {
	Scanned   int
	Completed int
	Failed    int
	Open      int
	Errors    int
}

// NewBlockchainListener cria uma nova instância do listener.
func NewBlockchainListener(observer Observer, flows storage.FlowStore, cfg config.ReconcilerConfig) *BlockchainListener {
	return &BlockchainListener{
		observer: observer,
		flows:    flows,
		cfg:      cfg,
		now:      time.Now,
		cron:     cron.New(cron.WithLocation(time.UTC), cron.WithSeconds()),
	}
}

// Start agenda RunOnce conforme reconciler.schedule.
func (l *BlockchainListener) Start(ctx context.Context) error {
	_, err := l.cron.AddFunc(l.cfg.Schedule, func() {
		if _, err := l.RunOnce(ctx); err != nil {
			logger.Error("Falha na reconciliação", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("agenda do reconciliador inválida %q: %w", l.cfg.Schedule, err)
	}
	l.cron.Start()
	logger.Info("Listener da blockchain iniciado", "schedule", l.cfg.Schedule)
	return nil
}

// Stop interrompe o agendamento e espera a passada em curso terminar.
func (l *BlockchainListener) Stop() {
	<-l.cron.Stop().Done()
	logger.Info("Listener da blockchain parado")
}

// RunOnce faz uma passada sobre os registros abertos mais antigos que stale_after.
// Passadas concorrentes são ignoradas.
func (l *BlockchainListener) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary
	if !l.running.TryLock() {
		logger.Debug("Reconciliação já em andamento, ignorando")
		return sum, nil
	}
	defer l.running.Unlock()

	now := l.now()
	cutoff := now.Add(-l.cfg.StaleAfter)
	records, err := l.flows.ListStaleFlows(ctx, cutoff, l.cfg.BatchSize)
	if err != nil {
		return sum, fmt.Errorf("falha ao listar registros abertos: %w", err)
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Scanned++
		claimed, err := l.flows.ClaimFlow(ctx, rec.Key(), cutoff)
		if err != nil {
			sum.Errors++
			logger.Warn("Falha ao reservar registro", "operation", rec.Operation, "uuid", rec.UUID, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		switch l.reconcile(ctx, rec, now) {
		case models.FlowCompleted:
			sum.Completed++
		case models.FlowFailed:
			sum.Failed++
		case "":
			sum.Errors++
		default:
			sum.Open++
		}
	}

	if sum.Scanned > 0 {
		logger.Info("Reconciliação concluída", "scanned", sum.Scanned, "completed", sum.Completed,
			"failed", sum.Failed, "open", sum.Open, "errors", sum.Errors)
	}
	return sum, nil
}

// reconcile devolve o novo status do registro, ou "" em caso de erro.
func (l *BlockchainListener) reconcile(ctx context.Context, rec models.FlowRecord, now time.Time) models.FlowStatus {
	log := logger.WithFlow(string(rec.Operation), rec.UUID, rec.TransactionID)

	obs, err := l.observer.Observe(ctx, rec)
	if err != nil {
		log.Warn("Falha ao consultar ledger", "reference", rec.LedgerRef, "error", err)
		return ""
	}

	if obs.Visible {
		if err := l.flows.CompleteFlow(ctx, rec.Key(), obs.Result, rec.LedgerRef); err != nil {
			log.Error("Falha ao concluir registro", "error", err)
			return ""
		}
		log.Info("Registro concluído pela reconciliação", "reference", rec.LedgerRef)
		return models.FlowCompleted
	}

	// Pendentes aguardam a liquidação do aluguel indefinidamente. A janela conta
	// a partir da tentativa atual, não da criação da chave.
	if rec.Status == models.FlowInProgress && now.Sub(rec.AttemptStartedAt) > l.cfg.InclusionWindow {
		cause := fmt.Sprintf("efeito não visível no ledger após %s", l.cfg.InclusionWindow)
		if err := l.flows.FailFlow(ctx, rec.Key(), cause); err != nil {
			log.Error("Falha ao marcar registro como falho", "error", err)
			return ""
		}
		log.Warn("Registro marcado como falho pela reconciliação", "reference", rec.LedgerRef)
		return models.FlowFailed
	}
	return rec.Status
}
