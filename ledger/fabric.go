package ledger

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/config"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/logger"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/hash"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"github.com/hyperledger/fabric-protos-go-apiv2/gateway"
	"github.com/hyperledger/fabric-protos-go-apiv2/peer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
)

// Nomes das funções do chaincode de barcos.
const (
	ccMintBoat                 = "MintBoat"
	ccSetRentalTerms           = "SetRentalTerms"
	ccListForSale              = "ListForSale"
	ccExecuteSale              = "ExecuteSale"
	ccCreateRentalAgreement    = "CreateRentalAgreement"
	ccRequestCancelReservation = "RequestCancelReservation"
	ccCancelReservation        = "CancelReservation"
	ccSetInspectionPassed      = "SetInspectionPassed"
	ccGetAskingPrice           = "GetAskingPrice"
	ccReadBoat                 = "ReadBoat"
	ccGetRentalTerms           = "GetRentalTerms"
	ccReadRental               = "ReadRental"
	ccFromUUID                 = "FromUuid"
	ccRentalFromUUID           = "RentalFromUuid"
	ccBalanceOf                = "BalanceOf"
)

// contract é o subconjunto de *client.Contract usado pelo driver.
type contract interface {
	SubmitWithContext(ctx context.Context, name string, options ...client.ProposalOption) ([]byte, error)
	EvaluateWithContext(ctx context.Context, name string, options ...client.ProposalOption) ([]byte, error)
}

// FabricLedger fala com o chaincode de barcos via Fabric Gateway.
type FabricLedger struct {
	contract    contract
	gw          *client.Gateway
	grpcConn    *grpc.ClientConn
	callTimeout time.Duration
	conn        Connection
}

// NewFabricLedger abre a conexão gRPC com o peer gateway e carrega a identidade X.509.
func NewFabricLedger(cfg config.FabricConfig, callTimeout time.Duration) (*FabricLedger, error) {
	if callTimeout <= 0 {
		callTimeout = time.Minute
	}

	tlsPEM, err := os.ReadFile(cfg.TLSCertPath)
	if err != nil {
		return nil, fmt.Errorf("falha ao ler certificado TLS: %w", err)
	}
	tlsCert, err := identity.CertificateFromPEM(tlsPEM)
	if err != nil {
		return nil, fmt.Errorf("certificado TLS inválido: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(tlsCert)
	conn, err := grpc.NewClient(cfg.PeerEndpoint, grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(pool, cfg.GatewayPeer)))
	if err != nil {
		return nil, fmt.Errorf("falha ao criar conexão gRPC: %w", err)
	}

	certPEM, err := os.ReadFile(cfg.CertPath)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("falha ao ler certificado: %w", err)
	}
	cert, err := identity.CertificateFromPEM(certPEM)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("certificado inválido: %w", err)
	}
	id, err := identity.NewX509Identity(cfg.MSPID, cert)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("falha ao criar identidade: %w", err)
	}
	keyPEM, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("falha ao ler chave privada: %w", err)
	}
	key, err := identity.PrivateKeyFromPEM(keyPEM)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("chave privada inválida: %w", err)
	}
	sign, err := identity.NewPrivateKeySign(key)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("falha ao criar assinador: %w", err)
	}

	gw, err := client.Connect(
		id,
		client.WithSign(sign),
		client.WithHash(hash.SHA256),
		client.WithClientConnection(conn),
		client.WithEvaluateTimeout(callTimeout),
		client.WithEndorseTimeout(callTimeout),
		client.WithSubmitTimeout(callTimeout),
		client.WithCommitStatusTimeout(callTimeout),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("falha ao conectar ao gateway: %w", err)
	}

	return &FabricLedger{
		contract:    gw.GetNetwork(cfg.Channel).GetContract(cfg.Chaincode),
		gw:          gw,
		grpcConn:    conn,
		callTimeout: callTimeout,
		conn: Connection{
			Network:  "fabric/" + cfg.Channel,
			Endpoint: cfg.PeerEndpoint,
			Signer:   cfg.MSPID + ":" + cert.Subject.CommonName,
		},
	}, nil
}

func (f *FabricLedger) Connection() Connection { return f.conn }

func (f *FabricLedger) Close() error {
	if f.gw != nil {
		f.gw.Close()
	}
	if f.grpcConn != nil {
		return f.grpcConn.Close()
	}
	return nil
}

func (f *FabricLedger) submit(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()

	logger.ExternalServiceCall("fabric", name, "args", args)
	out, err := f.contract.SubmitWithContext(ctx, name, client.WithArguments(args...))
	if err != nil {
		err = mapFabricError(err)
		logger.ExternalServiceResult("fabric", name, err)
		return nil, err
	}
	logger.ExternalServiceResult("fabric", name, nil)
	return out, nil
}

func (f *FabricLedger) evaluate(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.callTimeout)
	defer cancel()

	out, err := f.contract.EvaluateWithContext(ctx, name, client.WithArguments(args...))
	if err != nil {
		return nil, mapFabricError(err)
	}
	return out, nil
}

// mapFabricError traduz erros do gateway. Falha na espera do commit após a
// submissão é inclusão desconhecida, não falha.
func mapFabricError(err error) error {
	var commitStatusErr *client.CommitStatusError
	if errors.As(err, &commitStatusErr) {
		return models.InclusionUnknown(commitStatusErr.TransactionID, err)
	}
	var submitErr *client.SubmitError
	if errors.As(err, &submitErr) && status.Code(err) == codes.DeadlineExceeded {
		return models.InclusionUnknown(submitErr.TransactionID, err)
	}
	var commitErr *client.CommitError
	if errors.As(err, &commitErr) {
		if commitErr.Code == peer.TxValidationCode_MVCC_READ_CONFLICT {
			return fmt.Errorf("transação %s invalidada: %w", commitErr.TransactionID, models.ErrConflict)
		}
		return fmt.Errorf("transação %s invalidada (%s): %w", commitErr.TransactionID, commitErr.Code, models.ErrLedgerRejected)
	}

	if rejection, ok := rejectionForMessage(chaincodeMessage(err)); ok {
		return rejection
	}
	if status.Code(err) == codes.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("timeout na chamada ao gateway: %w", err)
	}
	return fmt.Errorf("falha na chamada ao chaincode: %w", err)
}

// chaincodeMessage junta a mensagem do status gRPC e os detalhes por peer.
func chaincodeMessage(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return err.Error()
	}
	parts := []string{st.Message()}
	for _, d := range st.Details() {
		if detail, ok := d.(*gateway.ErrorDetail); ok {
			parts = append(parts, detail.GetMessage())
		}
	}
	return strings.Join(parts, "; ")
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func parseU64(out []byte) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("resposta numérica inválida do chaincode %q: %w", out, err)
	}
	return v, nil
}

func (f *FabricLedger) receipt(out []byte) Receipt {
	return Receipt{Reference: strings.TrimSpace(string(out))}
}

func (f *FabricLedger) Mint(ctx context.Context, t models.MintTerms) (Receipt, error) {
	if err := t.Validate(); err != nil {
		return Receipt{}, err
	}
	out, err := f.submit(ctx, ccMintBoat,
		t.MetadataURL, t.UUID, t.Owner,
		u64(t.HourlyRate), u64(t.DailyRate), strconv.FormatBool(t.Listed()),
		u64(t.RefundPeriod), u64(t.SecurityDeposit), u64(t.ClosedPeriod), u64(t.SellPrice),
	)
	if err != nil {
		return Receipt{}, err
	}
	return f.receipt(out), nil
}

func (f *FabricLedger) SetRentalTerms(ctx context.Context, handle uint64, t models.RentalTerms) (Receipt, error) {
	out, err := f.submit(ctx, ccSetRentalTerms, u64(handle),
		u64(t.HourlyRate), u64(t.DailyRate), u64(t.ClosedPeriod), u64(t.RefundabilityPeriod), u64(t.SecurityDeposit))
	if err != nil {
		return Receipt{}, err
	}
	return f.receipt(out), nil
}

func (f *FabricLedger) ListForSale(ctx context.Context, handle, price uint64) (Receipt, error) {
	out, err := f.submit(ctx, ccListForSale, u64(handle), u64(price))
	if err != nil {
		return Receipt{}, err
	}
	return f.receipt(out), nil
}

func (f *FabricLedger) ExecuteSale(ctx context.Context, handle uint64, buyer string) (SaleResult, error) {
	out, err := f.submit(ctx, ccExecuteSale, u64(handle), buyer)
	if err != nil {
		return SaleResult{}, err
	}
	var res SaleResult
	if err := json.Unmarshal(out, &res); err != nil {
		return SaleResult{}, fmt.Errorf("resposta inválida de %s: %w", ccExecuteSale, err)
	}
	return res, nil
}

func (f *FabricLedger) CreateRentalAgreement(ctx context.Context, p RentalParams) (Receipt, error) {
	out, err := f.submit(ctx, ccCreateRentalAgreement,
		u64(p.AssetHandle), p.Renter, u64(p.DepositAmount), u64(p.SecurityDeposit),
		strconv.FormatInt(p.CheckIn.Unix(), 10), strconv.FormatInt(p.CheckOut.Unix(), 10), p.UUID)
	if err != nil {
		return Receipt{}, err
	}
	return f.receipt(out), nil
}

func (f *FabricLedger) RequestCancelReservation(ctx context.Context, rentalHandle uint64) (Receipt, error) {
	out, err := f.submit(ctx, ccRequestCancelReservation, u64(rentalHandle))
	if err != nil {
		return Receipt{}, err
	}
	return f.receipt(out), nil
}

func (f *FabricLedger) CancelReservation(ctx context.Context, rentalHandle uint64) (Receipt, error) {
	out, err := f.submit(ctx, ccCancelReservation, u64(rentalHandle))
	if err != nil {
		return Receipt{}, err
	}
	return f.receipt(out), nil
}

func (f *FabricLedger) SetInspectionPassed(ctx context.Context, rentalHandle uint64, passed bool) (Receipt, error) {
	out, err := f.submit(ctx, ccSetInspectionPassed, u64(rentalHandle), strconv.FormatBool(passed))
	if err != nil {
		return Receipt{}, err
	}
	return f.receipt(out), nil
}

func (f *FabricLedger) AskingPrice(ctx context.Context, handle uint64) (uint64, error) {
	out, err := f.evaluate(ctx, ccGetAskingPrice, u64(handle))
	if err != nil {
		return 0, err
	}
	return parseU64(out)
}

func (f *FabricLedger) Asset(ctx context.Context, handle uint64) (models.Asset, error) {
	var a models.Asset
	out, err := f.evaluate(ctx, ccReadBoat, u64(handle))
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(out, &a); err != nil {
		return a, fmt.Errorf("resposta inválida de %s: %w", ccReadBoat, err)
	}
	return a, nil
}

func (f *FabricLedger) RentalTerms(ctx context.Context, handle uint64) (models.RentalTerms, error) {
	var t models.RentalTerms
	out, err := f.evaluate(ctx, ccGetRentalTerms, u64(handle))
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal(out, &t); err != nil {
		return t, fmt.Errorf("resposta inválida de %s: %w", ccGetRentalTerms, err)
	}
	return t, nil
}

func (f *FabricLedger) RentalAgreement(ctx context.Context, rentalHandle uint64) (models.RentalAgreement, error) {
	var r models.RentalAgreement
	out, err := f.evaluate(ctx, ccReadRental, u64(rentalHandle))
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(out, &r); err != nil {
		return r, fmt.Errorf("resposta inválida de %s: %w", ccReadRental, err)
	}
	return r, nil
}

func (f *FabricLedger) ReservationCanceled(ctx context.Context, rentalHandle uint64) (bool, error) {
	r, err := f.RentalAgreement(ctx, rentalHandle)
	return r.Cancelled, err
}

func (f *FabricLedger) RentalCompleted(ctx context.Context, rentalHandle uint64) (bool, error) {
	r, err := f.RentalAgreement(ctx, rentalHandle)
	return r.Completed, err
}

func (f *FabricLedger) handleByUUID(ctx context.Context, fn, uuid string) (uint64, error) {
	out, err := f.evaluate(ctx, fn, uuid)
	if err != nil {
		return 0, err
	}
	handle, err := parseU64(out)
	if err != nil {
		return 0, err
	}
	if handle == 0 {
		return 0, fmt.Errorf("uuid %q: %w", uuid, models.ErrNotFound)
	}
	return handle, nil
}

func (f *FabricLedger) AssetHandleByUUID(ctx context.Context, uuid string) (uint64, error) {
	return f.handleByUUID(ctx, ccFromUUID, uuid)
}

func (f *FabricLedger) RentalHandleByUUID(ctx context.Context, uuid string) (uint64, error) {
	return f.handleByUUID(ctx, ccRentalFromUUID, uuid)
}

func (f *FabricLedger) BalanceOf(ctx context.Context, account string) (uint64, error) {
	out, err := f.evaluate(ctx, ccBalanceOf, account)
	if err != nil {
		return 0, err
	}
	return parseU64(out)
}
