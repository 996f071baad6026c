package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/models"

	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-protos-go-apiv2/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type mockContract struct {
	mock.Mock
}

func (m *mockContract) SubmitWithContext(ctx context.Context, name string, options ...client.ProposalOption) ([]byte, error) {
	args := m.Called(name)
	out, _ := args.Get(0).([]byte)
	return out, args.Error(1)
}

func (m *mockContract) EvaluateWithContext(ctx context.Context, name string, options ...client.ProposalOption) ([]byte, error) {
	args := m.Called(name)
	out, _ := args.Get(0).([]byte)
	return out, args.Error(1)
}

func endorseFailure(t *testing.T, msg string) error {
	t.Helper()
	st, err := status.New(codes.Aborted, "failed to endorse transaction").WithDetails(&gateway.ErrorDetail{
		Address: "peer0.org1.example.com:7051",
		MspId:   "Org1MSP",
		Message: msg,
	})
	require.NoError(t, err)
	return st.Err()
}

func TestMapFabricError_ChaincodeRejections(t *testing.T) {
	err := mapFabricError(endorseFailure(t, "chaincode response 500, NoActiveListing: boat 3"))
	assert.ErrorIs(t, err, models.ErrNoActiveListing)

	err = mapFabricError(endorseFailure(t, "chaincode response 500, AllowanceInsufficient"))
	assert.ErrorIs(t, err, models.ErrAllowanceInsufficient)

	err = mapFabricError(status.Error(codes.Unavailable, "connection refused"))
	assert.NotErrorIs(t, err, models.ErrLedgerRejected)
	assert.NotErrorIs(t, err, models.ErrInclusionUnknown)
}

func TestFabricLedger_HandleResolution(t *testing.T) {
	cc := new(mockContract)
	f := &FabricLedger{contract: cc, callTimeout: time.Second}

	cc.On("EvaluateWithContext", ccFromUUID).Return([]byte("12"), nil).Once()
	handle, err := f.AssetHandleByUUID(context.Background(), "boat-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), handle)

	cc.On("EvaluateWithContext", ccRentalFromUUID).Return([]byte("0"), nil).Once()
	_, err = f.RentalHandleByUUID(context.Background(), "rental-x")
	assert.ErrorIs(t, err, models.ErrNotFound)

	cc.AssertExpectations(t)
}

func TestFabricLedger_ExecuteSaleAndRejection(t *testing.T) {
	cc := new(mockContract)
	f := &FabricLedger{contract: cc, callTimeout: time.Second}

	cc.On("SubmitWithContext", ccExecuteSale).
		Return([]byte(`{"reference":"tx-1","newOwner":"buyer","seller":"seller","amount":1000}`), nil).Once()
	res, err := f.ExecuteSale(context.Background(), 3, "buyer")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", res.Reference)
	assert.Equal(t, "buyer", res.NewOwner)
	assert.Equal(t, uint64(1000), res.Amount)

	cc.On("SubmitWithContext", ccCancelReservation).
		Return(nil, endorseFailure(t, "NotRequested")).Once()
	_, err = f.CancelReservation(context.Background(), 5)
	assert.True(t, errors.Is(err, models.ErrNotRequested))

	cc.On("EvaluateWithContext", ccReadRental).
		Return([]byte(`{"rentalId":5,"cancelled":true}`), nil).Once()
	cancelled, err := f.ReservationCanceled(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, cancelled)

	cc.AssertExpectations(t)
}
