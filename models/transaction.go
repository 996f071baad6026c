package models

import "time"

// BookingStatusKey é a chave de metadata dedicada ao estado da reserva.
const BookingStatusKey = "bookingStatus"

// Valores literais gravados em metadata.bookingStatus.
const (
	CheckInCompleted  = "Check In Completed"
	CheckOutCompleted = "Check Out Completed"
)

// BookingStatus é o estado da reserva guardado no marketplace.
type BookingStatus int

const (
	NotCheckedIn BookingStatus = iota
	CheckedIn
	CheckedOut
)

func (s BookingStatus) String() string {
	switch s {
	case CheckedIn:
		return CheckInCompleted
	case CheckedOut:
		return CheckOutCompleted
	}
	return ""
}

// Next avança um passo. CheckedOut é terminal.
func (s BookingStatus) Next() BookingStatus {
	switch s {
	case NotCheckedIn:
		return CheckedIn
	default:
		return CheckedOut
	}
}

// BookingStatusFrom deriva o estado da metadata: vazia é reserva sem check-in,
// qualquer chave presente conta como check-in feito. Só bookingStatus igual a
// check-out marca o estado terminal.
func BookingStatusFrom(metadata map[string]any) BookingStatus {
	if len(metadata) == 0 {
		return NotCheckedIn
	}
	if s, _ := metadata[BookingStatusKey].(string); s == CheckOutCompleted {
		return CheckedOut
	}
	return CheckedIn
}

// Money é um valor monetário do marketplace em unidades mínimas.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// LineItem é um item de cobrança da transação.
type LineItem struct {
	Code       string   `json:"code"`
	UnitPrice  Money    `json:"unitPrice"`
	Quantity   float64  `json:"quantity,omitempty"`
	LineTotal  Money    `json:"lineTotal"`
	IncludeFor []string `json:"includeFor"`
	Reversal   bool     `json:"reversal"`
}

// Transition é uma entrada do histórico de transições.
type Transition struct {
	Transition string    `json:"transition"`
	CreatedAt  time.Time `json:"createdAt"`
	By         string    `json:"by"`
}

// MarketplaceTransaction é o registro off-chain de reserva ou venda.
type MarketplaceTransaction struct {
	ID             string         `json:"id"`
	LastTransition string         `json:"lastTransition"`
	LineItems      []LineItem     `json:"lineItems"`
	Metadata       map[string]any `json:"metadata"`
	Transitions    []Transition   `json:"transitions"`
}
