package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/config"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/logger"
	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// SolanaLedger fala com o programa de barcos e aluguéis na Solana. O fee payer
// assina e paga todas as transações; os fundos do comprador/locatário são
// movidos pela autoridade delegada do programa.
type SolanaLedger struct {
	RPCClient   *rpc.Client
	ProgramID   solana.PublicKey
	FeePayer    solana.PrivateKey
	PaymentMint solana.PublicKey

	commitment   rpc.CommitmentType
	callTimeout  time.Duration
	pollInterval time.Duration
	conn         Connection
}

// NewSolanaLedger carrega chaves e endereços da configuração.
func NewSolanaLedger(cfg config.SolanaConfig, callTimeout time.Duration) (*SolanaLedger, error) {
	feePayer, err := solana.PrivateKeyFromBase58(cfg.FeePayerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("falha ao carregar chave privada do Fee Payer: %w", err)
	}
	programID, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("program id inválido: %w", err)
	}
	var mint solana.PublicKey
	if cfg.PaymentMint != "" {
		if mint, err = solana.PublicKeyFromBase58(cfg.PaymentMint); err != nil {
			return nil, fmt.Errorf("mint de pagamento inválido: %w", err)
		}
	}
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	return &SolanaLedger{
		RPCClient:    rpc.New(cfg.RPCURL),
		ProgramID:    programID,
		FeePayer:     feePayer,
		PaymentMint:  mint,
		commitment:   rpc.CommitmentType(cfg.Commitment),
		callTimeout:  callTimeout,
		pollInterval: 500 * time.Millisecond,
		conn: Connection{
			Network:  "solana",
			Endpoint: cfg.RPCURL,
			Signer:   feePayer.PublicKey().String(),
		},
	}, nil
}

func (s *SolanaLedger) Connection() Connection { return s.conn }

func (s *SolanaLedger) Close() error { return s.RPCClient.Close() }

// --- contas do programa ---

type programConfig struct {
	Authority    solana.PublicKey
	NextBoatID   uint64
	NextRentalID uint64
}

type boatAccount struct {
	ID           uint64
	UUID         string
	Owner        solana.PublicKey
	MetadataURL  string
	Listed       bool
	SellPrice    uint64
	HourlyPrice  uint64
	DailyPrice   uint64
	RefundPeriod uint64
	ClosedPeriod uint64
	Deposit      uint64
	AskingPrice  uint64
}

type uuidIndex struct {
	ID uint64
}

type termsAccount struct {
	HourlyRate          uint64
	DailyRate           uint64
	ClosedPeriod        uint64
	RefundabilityPeriod uint64
	SecurityDeposit     uint64
}

type rentalAccount struct {
	ID               uint64
	BoatID           uint64
	UUID             string
	Renter           solana.PublicKey
	DepositAmount    uint64
	SecurityDeposit  uint64
	CheckIn          int64
	CheckOut         int64
	CancelRequested  bool
	Cancelled        bool
	InspectionPassed bool
	Completed        bool
}

// --- argumentos das instruções ---

type mintBoatArgs struct {
	MetadataURL  string
	UUID         string
	HourlyPrice  uint64
	DailyPrice   uint64
	Listed       bool
	RefundPeriod uint64
	Deposit      uint64
	ClosedPeriod uint64
	SellPrice    uint64
}

type rentalAgreementArgs struct {
	UUID            string
	DepositAmount   uint64
	SecurityDeposit uint64
	CheckIn         int64
	CheckOut        int64
}

type priceArgs struct {
	Price uint64
}

type inspectionArgs struct {
	Passed bool
}

// discriminator replica o prefixo de 8 bytes de instruções e contas Anchor.
func discriminator(namespace, name string) []byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	return sum[:8]
}

func encodeInstruction(name string, args any) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(discriminator("global", name))
	if args != nil {
		if err := bin.NewBorshEncoder(buf).Encode(args); err != nil {
			return nil, fmt.Errorf("falha ao codificar argumentos de %s: %w", name, err)
		}
	}
	return buf.Bytes(), nil
}

func decodeAccount(kind string, data []byte, v any) error {
	if len(data) < 8 || !bytes.Equal(data[:8], discriminator("account", kind)) {
		return fmt.Errorf("conta %s com discriminador inesperado", kind)
	}
	if err := bin.NewBorshDecoder(data[8:]).Decode(v); err != nil {
		return fmt.Errorf("falha ao decodificar conta %s: %w", kind, err)
	}
	return nil
}

func u64Seed(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func uuidSeed(uuid string) []byte {
	sum := sha256.Sum256([]byte(uuid))
	return sum[:]
}

func (s *SolanaLedger) pda(seeds ...[]byte) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(seeds, s.ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("falha ao derivar PDA: %w", err)
	}
	return addr, nil
}

func (s *SolanaLedger) configPDA() (solana.PublicKey, error) { return s.pda([]byte("config")) }
func (s *SolanaLedger) authorityPDA() (solana.PublicKey, error) {
	return s.pda([]byte("authority"))
}
func (s *SolanaLedger) boatPDA(handle uint64) (solana.PublicKey, error) {
	return s.pda([]byte("boat"), u64Seed(handle))
}
func (s *SolanaLedger) boatUUIDPDA(uuid string) (solana.PublicKey, error) {
	return s.pda([]byte("boat_uuid"), uuidSeed(uuid))
}
func (s *SolanaLedger) termsPDA(handle uint64) (solana.PublicKey, error) {
	return s.pda([]byte("terms"), u64Seed(handle))
}
func (s *SolanaLedger) rentalPDA(handle uint64) (solana.PublicKey, error) {
	return s.pda([]byte("rental"), u64Seed(handle))
}
func (s *SolanaLedger) rentalUUIDPDA(uuid string) (solana.PublicKey, error) {
	return s.pda([]byte("rental_uuid"), uuidSeed(uuid))
}
func (s *SolanaLedger) escrowPDA(rentalHandle uint64) (solana.PublicKey, error) {
	return s.pda([]byte("escrow"), u64Seed(rentalHandle))
}

// --- leitura ---

// readAccount devolve models.ErrNotFound quando a conta não existe.
func (s *SolanaLedger) readAccount(ctx context.Context, addr solana.PublicKey, kind string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	logger.ExternalServiceCall("solana", "getAccountInfo", "account", addr.String(), "kind", kind)
	out, err := s.RPCClient.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
		Commitment: s.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (out == nil || out.Value == nil)) {
		return fmt.Errorf("conta %s %s: %w", kind, addr, models.ErrNotFound)
	}
	if err != nil {
		logger.ExternalServiceResult("solana", "getAccountInfo", err, "account", addr.String())
		return fmt.Errorf("falha ao ler conta %s: %w", kind, err)
	}
	return decodeAccount(kind, out.Value.Data.GetBinary(), v)
}

func (s *SolanaLedger) readConfig(ctx context.Context) (programConfig, error) {
	var cfg programConfig
	addr, err := s.configPDA()
	if err != nil {
		return cfg, err
	}
	return cfg, s.readAccount(ctx, addr, "Config", &cfg)
}

func (s *SolanaLedger) readBoat(ctx context.Context, handle uint64) (boatAccount, error) {
	var b boatAccount
	addr, err := s.boatPDA(handle)
	if err != nil {
		return b, err
	}
	return b, s.readAccount(ctx, addr, "Boat", &b)
}

func (s *SolanaLedger) readRental(ctx context.Context, handle uint64) (rentalAccount, error) {
	var r rentalAccount
	addr, err := s.rentalPDA(handle)
	if err != nil {
		return r, err
	}
	return r, s.readAccount(ctx, addr, "Rental", &r)
}

func (s *SolanaLedger) AskingPrice(ctx context.Context, handle uint64) (uint64, error) {
	b, err := s.readBoat(ctx, handle)
	if err != nil {
		return 0, err
	}
	return b.AskingPrice, nil
}

func (s *SolanaLedger) Asset(ctx context.Context, handle uint64) (models.Asset, error) {
	b, err := s.readBoat(ctx, handle)
	if err != nil {
		return models.Asset{}, err
	}
	return b.toModel(), nil
}

func (b boatAccount) toModel() models.Asset {
	a := models.Asset{
		UUID:            b.UUID,
		Handle:          b.ID,
		Owner:           b.Owner.String(),
		ListingMode:     models.ListingUnlisted,
		SellPrice:       b.SellPrice,
		HourlyRate:      b.HourlyPrice,
		DailyRate:       b.DailyPrice,
		RefundPeriod:    b.RefundPeriod,
		ClosedPeriod:    b.ClosedPeriod,
		SecurityDeposit: b.Deposit,
		AskingPrice:     b.AskingPrice,
		MetadataURL:     b.MetadataURL,
	}
	if b.Listed {
		switch {
		case b.AskingPrice > 0 || b.SellPrice > 0:
			a.ListingMode = models.ListingForSale
		case b.HourlyPrice > 0:
			a.ListingMode = models.ListingHourly
		case b.DailyPrice > 0:
			a.ListingMode = models.ListingDaily
		}
	}
	return a
}

func (s *SolanaLedger) RentalTerms(ctx context.Context, handle uint64) (models.RentalTerms, error) {
	addr, err := s.termsPDA(handle)
	if err != nil {
		return models.RentalTerms{}, err
	}
	var t termsAccount
	if err := s.readAccount(ctx, addr, "RentalTerms", &t); err != nil {
		return models.RentalTerms{}, err
	}
	return models.RentalTerms{
		HourlyRate:          t.HourlyRate,
		DailyRate:           t.DailyRate,
		ClosedPeriod:        t.ClosedPeriod,
		RefundabilityPeriod: t.RefundabilityPeriod,
		SecurityDeposit:     t.SecurityDeposit,
	}, nil
}

func (s *SolanaLedger) RentalAgreement(ctx context.Context, rentalHandle uint64) (models.RentalAgreement, error) {
	r, err := s.readRental(ctx, rentalHandle)
	if err != nil {
		return models.RentalAgreement{}, err
	}
	return r.toModel(), nil
}

func (r rentalAccount) toModel() models.RentalAgreement {
	return models.RentalAgreement{
		Handle:           r.ID,
		AssetHandle:      r.BoatID,
		UUID:             r.UUID,
		Renter:           r.Renter.String(),
		DepositAmount:    r.DepositAmount,
		SecurityDeposit:  r.SecurityDeposit,
		CheckIn:          time.Unix(r.CheckIn, 0).UTC(),
		CheckOut:         time.Unix(r.CheckOut, 0).UTC(),
		CancelRequested:  r.CancelRequested,
		Cancelled:        r.Cancelled,
		InspectionPassed: r.InspectionPassed,
		Completed:        r.Completed,
	}
}

func (s *SolanaLedger) ReservationCanceled(ctx context.Context, rentalHandle uint64) (bool, error) {
	r, err := s.readRental(ctx, rentalHandle)
	if err != nil {
		return false, err
	}
	return r.Cancelled, nil
}

func (s *SolanaLedger) RentalCompleted(ctx context.Context, rentalHandle uint64) (bool, error) {
	r, err := s.readRental(ctx, rentalHandle)
	if err != nil {
		return false, err
	}
	return r.Completed, nil
}

func (s *SolanaLedger) handleByUUID(ctx context.Context, addr solana.PublicKey, kind string) (uint64, error) {
	var idx uuidIndex
	if err := s.readAccount(ctx, addr, kind, &idx); err != nil {
		return 0, err
	}
	if idx.ID == 0 {
		return 0, fmt.Errorf("índice %s vazio: %w", kind, models.ErrNotFound)
	}
	return idx.ID, nil
}

func (s *SolanaLedger) AssetHandleByUUID(ctx context.Context, uuid string) (uint64, error) {
	addr, err := s.boatUUIDPDA(uuid)
	if err != nil {
		return 0, err
	}
	return s.handleByUUID(ctx, addr, "BoatIndex")
}

func (s *SolanaLedger) RentalHandleByUUID(ctx context.Context, uuid string) (uint64, error) {
	addr, err := s.rentalUUIDPDA(uuid)
	if err != nil {
		return 0, err
	}
	return s.handleByUUID(ctx, addr, "RentalIndex")
}

// BalanceOf lê o saldo da ATA do mint de pagamento; ATA inexistente conta como zero.
func (s *SolanaLedger) BalanceOf(ctx context.Context, account string) (uint64, error) {
	owner, err := solana.PublicKeyFromBase58(account)
	if err != nil {
		return 0, models.Invalid("account_address", "endereço Solana inválido: %v", err)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, s.PaymentMint)
	if err != nil {
		return 0, fmt.Errorf("falha ao encontrar ATA: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	out, err := s.RPCClient.GetTokenAccountBalance(ctx, ata, s.commitment)
	if errors.Is(err, rpc.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("falha ao obter saldo da conta %s: %w", ata, err)
	}
	if out == nil || out.Value == nil {
		return 0, nil
	}
	return strconv.ParseUint(out.Value.Amount, 10, 64)
}

// --- escrita ---

func (s *SolanaLedger) Mint(ctx context.Context, t models.MintTerms) (Receipt, error) {
	if err := t.Validate(); err != nil {
		return Receipt{}, err
	}
	if _, err := s.AssetHandleByUUID(ctx, t.UUID); err == nil {
		return Receipt{}, models.ErrAlreadyMinted
	} else if !errors.Is(err, models.ErrNotFound) {
		return Receipt{}, err
	}
	owner := s.FeePayer.PublicKey()
	if t.Owner != "" {
		var err error
		if owner, err = solana.PublicKeyFromBase58(t.Owner); err != nil {
			return Receipt{}, models.Invalid("account_address", "endereço Solana inválido: %v", err)
		}
	}

	cfg, err := s.readConfig(ctx)
	if err != nil {
		return Receipt{}, err
	}
	configAddr, _ := s.configPDA()
	boat, err := s.boatPDA(cfg.NextBoatID)
	if err != nil {
		return Receipt{}, err
	}
	index, err := s.boatUUIDPDA(t.UUID)
	if err != nil {
		return Receipt{}, err
	}
	terms, err := s.termsPDA(cfg.NextBoatID)
	if err != nil {
		return Receipt{}, err
	}

	return s.invoke(ctx, "mint_boat", mintBoatArgs{
		MetadataURL:  t.MetadataURL,
		UUID:         t.UUID,
		HourlyPrice:  t.HourlyRate,
		DailyPrice:   t.DailyRate,
		Listed:       t.Listed(),
		RefundPeriod: t.RefundPeriod,
		Deposit:      t.SecurityDeposit,
		ClosedPeriod: t.ClosedPeriod,
		SellPrice:    t.SellPrice,
	}, solana.AccountMetaSlice{
		solana.NewAccountMeta(configAddr, true, false),
		solana.NewAccountMeta(boat, true, false),
		solana.NewAccountMeta(index, true, false),
		solana.NewAccountMeta(terms, true, false),
		solana.NewAccountMeta(owner, false, false),
		solana.NewAccountMeta(s.FeePayer.PublicKey(), true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	})
}

func (s *SolanaLedger) SetRentalTerms(ctx context.Context, handle uint64, t models.RentalTerms) (Receipt, error) {
	if err := t.Validate(); err != nil {
		return Receipt{}, err
	}
	boat, err := s.boatPDA(handle)
	if err != nil {
		return Receipt{}, err
	}
	terms, err := s.termsPDA(handle)
	if err != nil {
		return Receipt{}, err
	}
	return s.invoke(ctx, "set_rental_terms", termsAccount{
		HourlyRate:          t.HourlyRate,
		DailyRate:           t.DailyRate,
		ClosedPeriod:        t.ClosedPeriod,
		RefundabilityPeriod: t.RefundabilityPeriod,
		SecurityDeposit:     t.SecurityDeposit,
	}, solana.AccountMetaSlice{
		solana.NewAccountMeta(boat, false, false),
		solana.NewAccountMeta(terms, true, false),
		solana.NewAccountMeta(s.FeePayer.PublicKey(), true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	})
}

func (s *SolanaLedger) ListForSale(ctx context.Context, handle, price uint64) (Receipt, error) {
	boat, err := s.boatPDA(handle)
	if err != nil {
		return Receipt{}, err
	}
	return s.invoke(ctx, "list_for_sale", priceArgs{Price: price}, solana.AccountMetaSlice{
		solana.NewAccountMeta(boat, true, false),
		solana.NewAccountMeta(s.FeePayer.PublicKey(), true, true),
	})
}

func (s *SolanaLedger) ExecuteSale(ctx context.Context, handle uint64, buyer string) (SaleResult, error) {
	b, err := s.readBoat(ctx, handle)
	if err != nil {
		return SaleResult{}, err
	}
	if b.AskingPrice == 0 {
		return SaleResult{}, models.ErrNoActiveListing
	}
	buyerKey := s.FeePayer.PublicKey()
	if buyer != "" {
		if buyerKey, err = solana.PublicKeyFromBase58(buyer); err != nil {
			return SaleResult{}, models.Invalid("account_address", "endereço Solana inválido: %v", err)
		}
	}
	buyerATA, _, err := solana.FindAssociatedTokenAddress(buyerKey, s.PaymentMint)
	if err != nil {
		return SaleResult{}, fmt.Errorf("falha ao encontrar ATA do comprador: %w", err)
	}
	sellerATA, _, err := solana.FindAssociatedTokenAddress(b.Owner, s.PaymentMint)
	if err != nil {
		return SaleResult{}, fmt.Errorf("falha ao encontrar ATA do vendedor: %w", err)
	}
	boat, _ := s.boatPDA(handle)
	authority, err := s.authorityPDA()
	if err != nil {
		return SaleResult{}, err
	}

	rec, err := s.invoke(ctx, "execute_sale", priceArgs{Price: b.AskingPrice}, solana.AccountMetaSlice{
		solana.NewAccountMeta(boat, true, false),
		solana.NewAccountMeta(buyerKey, false, false),
		solana.NewAccountMeta(buyerATA, true, false),
		solana.NewAccountMeta(b.Owner, false, false),
		solana.NewAccountMeta(sellerATA, true, false),
		solana.NewAccountMeta(authority, false, false),
		solana.NewAccountMeta(s.FeePayer.PublicKey(), true, true),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	})
	return SaleResult{
		Receipt:  rec,
		NewOwner: buyerKey.String(),
		Seller:   b.Owner.String(),
		Amount:   b.AskingPrice,
	}, err
}

func (s *SolanaLedger) CreateRentalAgreement(ctx context.Context, p RentalParams) (Receipt, error) {
	renter, err := solana.PublicKeyFromBase58(p.Renter)
	if err != nil {
		return Receipt{}, models.Invalid("account_address", "endereço Solana inválido: %v", err)
	}
	cfg, err := s.readConfig(ctx)
	if err != nil {
		return Receipt{}, err
	}
	configAddr, _ := s.configPDA()
	boat, _ := s.boatPDA(p.AssetHandle)
	terms, _ := s.termsPDA(p.AssetHandle)
	rental, err := s.rentalPDA(cfg.NextRentalID)
	if err != nil {
		return Receipt{}, err
	}
	index, err := s.rentalUUIDPDA(p.UUID)
	if err != nil {
		return Receipt{}, err
	}
	escrow, err := s.escrowPDA(cfg.NextRentalID)
	if err != nil {
		return Receipt{}, err
	}
	authority, err := s.authorityPDA()
	if err != nil {
		return Receipt{}, err
	}
	renterATA, _, err := solana.FindAssociatedTokenAddress(renter, s.PaymentMint)
	if err != nil {
		return Receipt{}, fmt.Errorf("falha ao encontrar ATA do locatário: %w", err)
	}

	return s.invoke(ctx, "create_rental_agreement", rentalAgreementArgs{
		UUID:            p.UUID,
		DepositAmount:   p.DepositAmount,
		SecurityDeposit: p.SecurityDeposit,
		CheckIn:         p.CheckIn.Unix(),
		CheckOut:        p.CheckOut.Unix(),
	}, solana.AccountMetaSlice{
		solana.NewAccountMeta(configAddr, true, false),
		solana.NewAccountMeta(boat, false, false),
		solana.NewAccountMeta(terms, false, false),
		solana.NewAccountMeta(rental, true, false),
		solana.NewAccountMeta(index, true, false),
		solana.NewAccountMeta(renter, false, false),
		solana.NewAccountMeta(renterATA, true, false),
		solana.NewAccountMeta(escrow, true, false),
		solana.NewAccountMeta(s.PaymentMint, false, false),
		solana.NewAccountMeta(authority, false, false),
		solana.NewAccountMeta(s.FeePayer.PublicKey(), true, true),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
	})
}

// rentalAccounts monta as contas comuns às transições de um aluguel.
func (s *SolanaLedger) rentalAccounts(ctx context.Context, rentalHandle uint64) (solana.AccountMetaSlice, error) {
	r, err := s.readRental(ctx, rentalHandle)
	if err != nil {
		return nil, err
	}
	b, err := s.readBoat(ctx, r.BoatID)
	if err != nil {
		return nil, err
	}
	rental, _ := s.rentalPDA(rentalHandle)
	boat, _ := s.boatPDA(r.BoatID)
	escrow, _ := s.escrowPDA(rentalHandle)
	authority, err := s.authorityPDA()
	if err != nil {
		return nil, err
	}
	renterATA, _, err := solana.FindAssociatedTokenAddress(r.Renter, s.PaymentMint)
	if err != nil {
		return nil, err
	}
	ownerATA, _, err := solana.FindAssociatedTokenAddress(b.Owner, s.PaymentMint)
	if err != nil {
		return nil, err
	}
	return solana.AccountMetaSlice{
		solana.NewAccountMeta(rental, true, false),
		solana.NewAccountMeta(boat, false, false),
		solana.NewAccountMeta(escrow, true, false),
		solana.NewAccountMeta(renterATA, true, false),
		solana.NewAccountMeta(ownerATA, true, false),
		solana.NewAccountMeta(authority, false, false),
		solana.NewAccountMeta(s.FeePayer.PublicKey(), true, true),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}, nil
}

func (s *SolanaLedger) RequestCancelReservation(ctx context.Context, rentalHandle uint64) (Receipt, error) {
	accounts, err := s.rentalAccounts(ctx, rentalHandle)
	if err != nil {
		return Receipt{}, err
	}
	return s.invoke(ctx, "request_cancel_reservation", nil, accounts)
}

func (s *SolanaLedger) CancelReservation(ctx context.Context, rentalHandle uint64) (Receipt, error) {
	accounts, err := s.rentalAccounts(ctx, rentalHandle)
	if err != nil {
		return Receipt{}, err
	}
	return s.invoke(ctx, "cancel_reservation", nil, accounts)
}

func (s *SolanaLedger) SetInspectionPassed(ctx context.Context, rentalHandle uint64, passed bool) (Receipt, error) {
	accounts, err := s.rentalAccounts(ctx, rentalHandle)
	if err != nil {
		return Receipt{}, err
	}
	return s.invoke(ctx, "set_inspection_passed", inspectionArgs{Passed: passed}, accounts)
}

// invoke monta, assina, envia e aguarda a confirmação de uma instrução do programa.
func (s *SolanaLedger) invoke(ctx context.Context, name string, args any, accounts solana.AccountMetaSlice) (Receipt, error) {
	data, err := encodeInstruction(name, args)
	if err != nil {
		return Receipt{}, err
	}
	ix := solana.NewInstruction(s.ProgramID, accounts, data)

	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	recent, err := s.RPCClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return Receipt{}, fmt.Errorf("falha ao obter blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		recent.Value.Blockhash,
		solana.TransactionPayer(s.FeePayer.PublicKey()),
	)
	if err != nil {
		return Receipt{}, fmt.Errorf("falha ao criar transação %s: %w", name, err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.FeePayer.PublicKey()) {
			return &s.FeePayer
		}
		return nil
	}); err != nil {
		return Receipt{}, fmt.Errorf("falha ao assinar transação pelo FeePayer: %w", err)
	}
	sig := tx.Signatures[0]

	logger.ExternalServiceCall("solana", name, "signature", sig.String())
	if _, err := s.RPCClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	}); err != nil {
		if rejection, ok := rejectionFromError(err); ok {
			logger.ExternalServiceResult("solana", name, rejection, "signature", sig.String())
			return Receipt{}, rejection
		}
		if ctx.Err() != nil {
			return Receipt{}, models.InclusionUnknown(sig.String(), err)
		}
		return Receipt{}, fmt.Errorf("falha ao enviar transação %s: %w", name, err)
	}

	err = s.awaitConfirmation(ctx, sig, recent.Value.LastValidBlockHeight)
	logger.ExternalServiceResult("solana", name, err, "signature", sig.String())
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Reference: sig.String()}, nil
}

// awaitConfirmation consulta o status da assinatura até a confirmação, erro on-chain,
// expiração do blockhash ou fim do prazo.
func (s *SolanaLedger) awaitConfirmation(ctx context.Context, sig solana.Signature, lastValidHeight uint64) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		out, err := s.RPCClient.GetSignatureStatuses(ctx, true, sig)
		if err == nil && out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			st := out.Value[0]
			if st.Err != nil {
				if rejection, ok := rejectionFromStatus(st.Err); ok {
					return rejection
				}
				return fmt.Errorf("transação %s falhou on-chain: %v: %w", sig, st.Err, models.ErrLedgerRejected)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		} else if err == nil && lastValidHeight > 0 {
			height, herr := s.RPCClient.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
			if herr == nil && height > lastValidHeight {
				return fmt.Errorf("transação %s expirou sem inclusão", sig)
			}
		}

		select {
		case <-ctx.Done():
			return models.InclusionUnknown(sig.String(), ctx.Err())
		case <-ticker.C:
		}
	}
}

var customErrorPattern = regexp.MustCompile(`custom program error: 0x([0-9a-fA-F]+)`)

// rejectionFromError lê o código customizado do erro de preflight.
func rejectionFromError(err error) (error, bool) {
	m := customErrorPattern.FindStringSubmatch(fmt.Sprintf("%+v", err))
	if m == nil {
		return nil, false
	}
	code, perr := strconv.ParseInt(m[1], 16, 64)
	if perr != nil {
		return nil, false
	}
	return rejectionForCode(code)
}

// rejectionFromStatus percorre o erro JSON do status ({"InstructionError":[0,{"Custom":6003}]}).
func rejectionFromStatus(statusErr any) (error, bool) {
	switch v := statusErr.(type) {
	case map[string]any:
		if c, ok := v["Custom"]; ok {
			switch n := c.(type) {
			case float64:
				return rejectionForCode(int64(n))
			case int64:
				return rejectionForCode(n)
			}
		}
		for _, inner := range v {
			if err, ok := rejectionFromStatus(inner); ok {
				return err, true
			}
		}
	case []any:
		for _, inner := range v {
			if err, ok := rejectionFromStatus(inner); ok {
				return err, true
			}
		}
	}
	return nil, false
}
