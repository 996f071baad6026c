package models

import (
	"math/bits"
	"time"
)

// RentalStage é o estágio derivado de um contrato de aluguel.
type RentalStage string

const (
	StageCreated               RentalStage = "created"
	StageCancellationRequested RentalStage = "cancellation-requested"
	StageCancelled             RentalStage = "cancelled"
	StageInspected             RentalStage = "inspected"
	StageCompleted             RentalStage = "completed"
)

// RentalAgreement é o contrato on-chain criado numa reserva.
type RentalAgreement struct {
	Handle           uint64    `json:"rentalId"`
	AssetHandle      uint64    `json:"tokenId"`
	UUID             string    `json:"uuid"`
	Renter           string    `json:"renter"`
	DepositAmount    uint64    `json:"depositAmount"` // taxa + caução
	SecurityDeposit  uint64    `json:"securityDeposit"`
	CheckIn          time.Time `json:"checkIn"`
	CheckOut         time.Time `json:"checkOut"`
	CancelRequested  bool      `json:"cancelRequested"`
	Cancelled        bool      `json:"cancelled"`
	InspectionPassed bool      `json:"inspectionPassed"`
	Completed        bool      `json:"completed"`
}

// Stage deriva o estágio atual a partir das flags.
func (r RentalAgreement) Stage() RentalStage {
	switch {
	case r.Cancelled:
		return StageCancelled
	case r.Completed:
		return StageCompleted
	case r.CancelRequested:
		return StageCancellationRequested
	case r.InspectionPassed:
		return StageInspected
	}
	return StageCreated
}

// Terminal indica se o contrato já foi cancelado ou concluído.
func (r RentalAgreement) Terminal() bool {
	return r.Cancelled || r.Completed
}

// HoursBetween retorna as horas inteiras entre check-in e check-out, truncando
// frações em direção a zero.
func HoursBetween(checkIn, checkOut time.Time) uint64 {
	d := checkOut.Sub(checkIn)
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Hour)
}

// DepositFor calcula taxa horária × horas + caução. Um total que não cabe em
// uint64 é erro de validação.
func DepositFor(terms RentalTerms, checkIn, checkOut time.Time) (deposit, hours uint64, err error) {
	hours = HoursBetween(checkIn, checkOut)
	hi, fee := bits.Mul64(terms.HourlyRate, hours)
	if hi != 0 {
		return 0, hours, Invalid("check_out", "depósito excede o limite para %d horas", hours)
	}
	deposit, carry := bits.Add64(fee, terms.SecurityDeposit, 0)
	if carry != 0 {
		return 0, hours, Invalid("check_out", "depósito excede o limite para %d horas", hours)
	}
	return deposit, hours, nil
}

// RentalRequest são os dados de uma nova reserva.
type RentalRequest struct {
	AssetUUID  string
	RentalUUID string
	Renter     string
	CheckIn    time.Time
	CheckOut   time.Time
}

// Validate rejeita campos ausentes e janelas invertidas.
func (r RentalRequest) Validate() error {
	switch {
	case r.AssetUUID == "":
		return Invalid("boat_uuid", "campo obrigatório")
	case r.RentalUUID == "":
		return Invalid("rental_uuid", "campo obrigatório")
	case r.Renter == "":
		return Invalid("account_address", "campo obrigatório")
	case r.CheckIn.IsZero() || r.CheckOut.IsZero():
		return Invalid("check_in", "check_in e check_out são obrigatórios")
	case !r.CheckOut.After(r.CheckIn):
		return Invalid("check_out", "check_out deve ser posterior ao check_in")
	}
	return nil
}
