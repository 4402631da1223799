package mortgage

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeGatewayScenario(t *testing.T) {
	f := NewFakeGateway()
	ctx := context.Background()

	_, err := f.ListAll(ctx)
	require.ErrorIs(t, err, ErrNotConnected)

	conn, err := f.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultFakeAccount, conn.Account())

	require.NoError(t, f.Create(ctx, big.NewInt(1000)))
	require.NoError(t, f.Approve(ctx, 1))
	require.NoError(t, f.Pay(ctx, 1, big.NewInt(200)))

	list, err := f.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, uint64(1), list[0].ID)
	assert.True(t, list[0].Approved)
	assert.Equal(t, "200", list[0].PaidAmount.String())

	// returned values are copies
	list[0].PaidAmount.SetInt64(999)
	again, err := f.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "200", again[0].PaidAmount.String())
}

func TestFakeGatewayContractRules(t *testing.T) {
	f := NewFakeGateway()
	ctx := context.Background()
	_, err := f.Connect(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, f.Approve(ctx, 1), ErrContractError)
	require.NoError(t, f.Create(ctx, big.NewInt(5)))
	assert.ErrorIs(t, f.Pay(ctx, 1, big.NewInt(1)), ErrContractError, "unapproved mortgage")
	assert.ErrorIs(t, f.Create(ctx, big.NewInt(0)), ErrContractError)
}

func TestFakeGatewayInjectedFailures(t *testing.T) {
	f := NewFakeGateway()
	ctx := context.Background()
	_, err := f.Connect(ctx)
	require.NoError(t, err)

	boom := errors.New("boom")
	f.FailNext(OpCreate, boom)
	assert.ErrorIs(t, f.Create(ctx, big.NewInt(1)), boom)
	assert.NoError(t, f.Create(ctx, big.NewInt(1)))
	assert.Equal(t, 2, f.Calls(OpCreate))
	assert.Equal(t, 3, f.TotalCalls())
}

func TestUnavailableFakeGateway(t *testing.T) {
	f := NewUnavailableFakeGateway()
	_, err := f.Connect(context.Background())
	assert.ErrorIs(t, err, ErrWalletUnavailable)
}

func TestFakeGatewayPing(t *testing.T) {
	f := NewFakeGateway()
	ctx := context.Background()
	assert.ErrorIs(t, f.Ping(ctx), ErrNotConnected)
	_, err := f.Connect(ctx)
	require.NoError(t, err)
	assert.NoError(t, f.Ping(ctx))
	assert.Zero(t, f.Calls(OpList), "ping is not a contract call")
}
