package models

import "strings"

// ListingMode indica sob qual modalidade o barco está ofertado.
type ListingMode string

const (
	ListingForSale  ListingMode = "for-sale"
	ListingHourly   ListingMode = "hourly-rental"
	ListingDaily    ListingMode = "daily-rental"
	ListingUnlisted ListingMode = "unlisted"
)

const secondsPerHour = 3600

// ParseListingMode aceita os nomes usados pelo formulário de anúncio ("sale" incluso).
func ParseListingMode(s string) (ListingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sale", string(ListingForSale):
		return ListingForSale, nil
	case string(ListingHourly):
		return ListingHourly, nil
	case string(ListingDaily):
		return ListingDaily, nil
	case "", string(ListingUnlisted):
		return ListingUnlisted, nil
	}
	return "", Invalid("listing_type", "modo de listagem desconhecido %q", s)
}

// Asset representa um barco tokenizado no ledger.
type Asset struct {
	UUID            string      `json:"uuid"`
	Handle          uint64      `json:"tokenId"`
	Owner           string      `json:"owner"`
	ListingMode     ListingMode `json:"listingMode"`
	SellPrice       uint64      `json:"sellPrice"`
	HourlyRate      uint64      `json:"hourlyRate"`
	DailyRate       uint64      `json:"dailyRate"`
	RefundPeriod    uint64      `json:"refundPeriod"` // segundos
	ClosedPeriod    uint64      `json:"closedPeriod"` // segundos
	SecurityDeposit uint64      `json:"securityDeposit"`
	AskingPrice     uint64      `json:"askingPrice"` // 0 quando não está à venda
	MetadataURL     string      `json:"metadataUrl"`
}

// Validate garante que no máximo um preço está ativo.
func (a Asset) Validate() error {
	return checkPriceExclusivity(a.SellPrice, a.HourlyRate, a.DailyRate)
}

func checkPriceExclusivity(prices ...uint64) error {
	active := 0
	for _, p := range prices {
		if p > 0 {
			active++
		}
	}
	if active > 1 {
		return ErrPriceExclusivity
	}
	return nil
}

// MintTerms são os parâmetros de cunhagem de um barco.
type MintTerms struct {
	UUID            string
	Owner           string
	MetadataURL     string
	ListingMode     ListingMode
	SellPrice       uint64
	HourlyRate      uint64
	DailyRate       uint64
	SecurityDeposit uint64
	RefundPeriod    uint64
	ClosedPeriod    uint64
}

// Listed indica se o barco entra no ledger já anunciado.
func (m MintTerms) Listed() bool {
	return m.ListingMode != ListingUnlisted
}

// Validate verifica campos obrigatórios e a exclusividade de preços.
func (m MintTerms) Validate() error {
	if m.UUID == "" {
		return Invalid("boat_uuid", "campo obrigatório")
	}
	if m.MetadataURL == "" {
		return Invalid("metadata_url", "campo obrigatório")
	}
	return checkPriceExclusivity(m.SellPrice, m.HourlyRate, m.DailyRate)
}

// NewMintTerms converte os valores do formulário (centavos e horas) para os
// campos do contrato. Somente o preço do modo escolhido é preenchido e o
// depósito só vale para aluguel.
func NewMintTerms(uuid, owner, metadataURL string, mode ListingMode, priceCents, depositCents, refundHours, closedHours uint64) MintTerms {
	whole := priceCents / 100
	m := MintTerms{
		UUID:         uuid,
		Owner:        owner,
		MetadataURL:  metadataURL,
		ListingMode:  mode,
		RefundPeriod: refundHours * secondsPerHour,
		ClosedPeriod: closedHours * secondsPerHour,
	}
	switch mode {
	case ListingForSale:
		m.SellPrice = whole
	case ListingHourly:
		m.HourlyRate = whole
		m.SecurityDeposit = depositCents / 100
	case ListingDaily:
		m.DailyRate = whole
		m.SecurityDeposit = depositCents / 100
	}
	return m
}

// RentalTerms são as condições de aluguel gravadas por ativo.
type RentalTerms struct {
	HourlyRate          uint64 `json:"adjustedHourlyPrice"`
	DailyRate           uint64 `json:"adjustedDailyPrice"`
	ClosedPeriod        uint64 `json:"closedPeriod"`
	RefundabilityPeriod uint64 `json:"refundabilityPeriod"`
	SecurityDeposit     uint64 `json:"securityDeposit"`
}

// Validate aplica a mesma exclusividade de preços das condições de cunhagem.
func (t RentalTerms) Validate() error {
	return checkPriceExclusivity(t.HourlyRate, t.DailyRate)
}
