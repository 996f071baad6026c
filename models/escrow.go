package models

// EscrowState é o destino dos fundos retidos de um aluguel.
type EscrowState string

const (
	EscrowHeld             EscrowState = "held"
	EscrowReleasedToOwner  EscrowState = "released-to-owner"
	EscrowRefundedToRenter EscrowState = "refunded-to-renter"
)

// EscrowDeposit representa os fundos do depósito retidos on-chain.
type EscrowDeposit struct {
	RentalHandle uint64      `json:"rentalId"`
	Amount       uint64      `json:"amount"`
	State        EscrowState `json:"state"`
}

// EscrowFor deriva o estado do escrow a partir do contrato. Exatamente um
// estado vale por vez.
func EscrowFor(r RentalAgreement) EscrowDeposit {
	e := EscrowDeposit{RentalHandle: r.Handle, Amount: r.DepositAmount, State: EscrowHeld}
	switch {
	case r.Cancelled:
		e.State = EscrowRefundedToRenter
	case r.Completed:
		e.State = EscrowReleasedToOwner
	}
	return e
}
