package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/config"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/ledger"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/logger"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/storage"
)

// MarketplaceClient é o subconjunto da Integration API usado pelos fluxos.
type MarketplaceClient interface {
	Show(ctx context.Context, transactionID string) (models.MarketplaceTransaction, error)
	UpdateMetadata(ctx context.Context, transactionID string, metadata map[string]any) (models.MarketplaceTransaction, error)
}

// Coordinator executa os fluxos entre o ledger e o marketplace. Não guarda
// estado de negócio; apenas os registros de idempotência em storage.
type Coordinator struct {
	ledgers     *ledger.Holder
	identity    *IdentityResolver
	flows       storage.FlowStore
	marketplace MarketplaceClient
	rental      config.RentalConfig
}

func NewCoordinator(ledgers *ledger.Holder, flows storage.FlowStore, mp MarketplaceClient, rental config.RentalConfig) *Coordinator {
	if rental.CompletionPollAttempts < 1 {
		rental.CompletionPollAttempts = 1
	}
	return &Coordinator{
		ledgers:     ledgers,
		identity:    NewIdentityResolver(ledgers),
		flows:       flows,
		marketplace: mp,
		rental:      rental,
	}
}

// Identity expõe o resolvedor de uuids usado pelos fluxos.
func (c *Coordinator) Identity() *IdentityResolver {
	return c.identity
}

// Connection descreve a conexão vigente com o ledger.
func (c *Coordinator) Connection() ledger.Connection {
	return c.ledgers.Current().Connection()
}

// flowRun acompanha uma execução: a referência da última transação submetida
// fica gravada no registro para o reconciliador.
type flowRun struct {
	key    models.FlowKey
	log    *slog.Logger
	store  storage.FlowStore
	ledger ledger.AssetLedger
	ref    string
}

func (f *flowRun) track(ctx context.Context, r ledger.Receipt) {
	if r.Reference == "" {
		return
	}
	f.ref = r.Reference
	if err := f.store.SetFlowLedgerRef(context.WithoutCancel(ctx), f.key, r.Reference); err != nil {
		f.log.Warn("Falha ao gravar referência do ledger", "reference", r.Reference, "error", err)
	}
}

// checkpoint grava o resultado esperado antes de uma submissão cujo efeito
// o ledger não permite reconstruir depois.
func (f *flowRun) checkpoint(ctx context.Context, result any) {
	body, err := json.Marshal(result)
	if err == nil {
		err = f.store.SetFlowResult(context.WithoutCancel(ctx), f.key, body)
	}
	if err != nil {
		f.log.Warn("Falha ao gravar resultado provisório", "error", err)
	}
}

// requestHash serializa a requisição e devolve o JSON e seu sha256.
func requestHash(req any) ([]byte, string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, "", fmt.Errorf("falha ao serializar requisição: %w", err)
	}
	sum := sha256.Sum256(body)
	return body, hex.EncodeToString(sum[:]), nil
}

// runFlow envolve body com o ciclo Begin → passos → Complete | Fail | MarkPending.
// Uma chave concluída devolve o resultado gravado sem chamar body.
func runFlow[T any](ctx context.Context, c *Coordinator, key models.FlowKey, req any, body func(context.Context, *flowRun) (T, error)) (T, error) {
	var zero T
	started := time.Now()
	flow := string(key.Operation)
	log := logger.WithFlow(flow, key.UUID, key.TransactionID)

	request, hash, err := requestHash(req)
	if err != nil {
		return zero, err
	}

	rec, replay, err := c.flows.BeginFlow(ctx, key, hash, request)
	if err != nil {
		observeFlow(flow, outcomeRejected, started)
		return zero, err
	}
	if replay {
		var out T
		if err := json.Unmarshal(rec.Result, &out); err != nil {
			return zero, fmt.Errorf("falha ao ler resultado gravado: %w", err)
		}
		log.Info("Fluxo já concluído, devolvendo resultado gravado", "reference", rec.LedgerRef)
		observeFlow(flow, outcomeReplayed, started)
		return out, nil
	}
	log.Info("Fluxo iniciado", "attempt", rec.Attempts)

	l, release := c.ledgers.Acquire()
	defer release()
	run := &flowRun{key: key, log: log, store: c.flows, ledger: l}
	out, err := body(ctx, run)

	bg := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		result, merr := json.Marshal(out)
		if merr == nil {
			merr = c.flows.CompleteFlow(bg, key, result, run.ref)
		}
		if merr != nil {
			// O efeito já está no ledger; o reconciliador fecha o registro.
			log.Error("Fluxo concluído, mas falha ao gravar registro", "error", merr)
		}
		log.Info("Fluxo concluído", "reference", run.ref)
		observeFlow(flow, outcomeCompleted, started)
		return out, nil

	case errors.Is(err, models.ErrCompletionPending):
		result, _ := json.Marshal(out)
		if serr := c.flows.MarkFlowPending(bg, key, err.Error()); serr != nil {
			log.Error("Falha ao marcar registro como pendente", "error", serr)
		}
		log.Warn("Fluxo aguardando conclusão no ledger", "reference", run.ref, "result", string(result))
		observeFlow(flow, outcomePending, started)
		return out, err

	case errors.Is(err, models.ErrInclusionUnknown):
		log.Warn("Inclusão no ledger desconhecida; registro permanece em andamento", "reference", run.ref, "error", err)
		observeFlow(flow, outcomeUnknown, started)
		return zero, err

	default:
		if serr := c.flows.FailFlow(bg, key, err.Error()); serr != nil {
			log.Error("Falha ao marcar registro como falho", "error", serr)
		}
		log.Warn("Fluxo falhou", "error", err)
		observeFlow(flow, outcomeFailed, started)
		return zero, err
	}
}
