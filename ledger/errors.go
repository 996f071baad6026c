package ledger

import (
	"strings"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"
)

// Códigos de erro do programa/chaincode, na ordem do enum on-chain.
var rejectionCodes = []struct {
	name string
	err  error
}{
	{"PriceExclusivity", models.ErrPriceExclusivity},
	{"AlreadyMinted", models.ErrAlreadyMinted},
	{"NotOwner", models.ErrNotOwner},
	{"NoActiveListing", models.ErrNoActiveListing},
	{"InsufficientFunds", models.ErrInsufficientFunds},
	{"AllowanceInsufficient", models.ErrAllowanceInsufficient},
	{"NotRequested", models.ErrNotRequested},
	{"InvalidTransition", models.ErrInvalidTransition},
	{"UnknownUUID", models.ErrNotFound},
}

// anchorErrorBase é o primeiro código de erro customizado de um programa Anchor.
const anchorErrorBase = 6000

// rejectionForCode traduz um código customizado do programa Solana.
func rejectionForCode(code int64) (error, bool) {
	i := code - anchorErrorBase
	if i < 0 || i >= int64(len(rejectionCodes)) {
		return nil, false
	}
	return rejectionCodes[i].err, true
}

// rejectionForMessage procura o nome de um código na mensagem do chaincode.
func rejectionForMessage(msg string) (error, bool) {
	for _, rc := range rejectionCodes {
		if strings.Contains(msg, rc.name) {
			return rc.err, true
		}
	}
	return nil, false
}
