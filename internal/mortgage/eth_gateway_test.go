package mortgage

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"mortgagedapp/internal/contracts"

	"github.com/charmbracelet/log"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testContract = common.HexToAddress("0x00000000000000000000000000000000000000aa")

// fakeChain is an RPC backend that executes Mortgage calls against in-memory
// state, so the real bindings, signing and receipt polling are exercised.
type fakeChain struct {
	mu        sync.Mutex
	abi       abi.ABI
	networkID *big.Int
	chainID   *big.Int
	mortgages []Mortgage
	nonces    map[common.Address]uint64
	receipts  map[common.Hash]*types.Receipt
	polled    map[common.Hash]bool
	block     int64
	sent      int
	closed    bool

	failRead   uint64 // getMortgage id that errors
	revertMine string // method whose mined receipt carries status 0
}

func newFakeChain(t *testing.T) *fakeChain {
	t.Helper()
	art, err := contracts.LoadArtifact("")
	require.NoError(t, err)
	return &fakeChain{
		abi:       art.ABI,
		networkID: big.NewInt(5777),
		chainID:   big.NewInt(1337),
		nonces:    make(map[common.Address]uint64),
		receipts:  make(map[common.Hash]*types.Receipt),
		polled:    make(map[common.Hash]bool),
	}
}

func (c *fakeChain) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (c *fakeChain) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (c *fakeChain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	method, args, err := c.decode(call.Data)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "mortgageCount":
		return method.Outputs.Pack(big.NewInt(int64(len(c.mortgages))))
	case "getMortgage":
		id := args[0].(*big.Int).Uint64()
		if id == c.failRead {
			return nil, fmt.Errorf("rpc read failed for %d", id)
		}
		if id == 0 || id > uint64(len(c.mortgages)) {
			return nil, errors.New("execution reverted")
		}
		m := c.mortgages[id-1]
		return method.Outputs.Pack(m.Borrower, m.Amount, m.PaidAmount, m.Approved)
	}
	return nil, fmt.Errorf("%s is not a call", method.Name)
}

func (c *fakeChain) decode(data []byte) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("short calldata")
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return method, args, nil
}

// apply runs a state-changing call. With dryRun it only validates, which is how
// gas estimation surfaces reverts.
func (c *fakeChain) apply(from common.Address, data []byte, dryRun bool) error {
	method, args, err := c.decode(data)
	if err != nil {
		return err
	}
	lookup := func(id *big.Int) (*Mortgage, error) {
		n := id.Uint64()
		if n == 0 || n > uint64(len(c.mortgages)) {
			return nil, errors.New("execution reverted: mortgage does not exist")
		}
		return &c.mortgages[n-1], nil
	}
	switch method.Name {
	case "createMortgage":
		if dryRun {
			return nil
		}
		c.mortgages = append(c.mortgages, Mortgage{
			ID:         uint64(len(c.mortgages) + 1),
			Borrower:   from,
			Amount:     new(big.Int).Set(args[0].(*big.Int)),
			PaidAmount: new(big.Int),
		})
	case "approveMortgage":
		m, err := lookup(args[0].(*big.Int))
		if err != nil || dryRun {
			return err
		}
		m.Approved = true
	case "makePayment":
		m, err := lookup(args[0].(*big.Int))
		if err != nil || dryRun {
			return err
		}
		m.PaidAmount = new(big.Int).Add(m.PaidAmount, args[1].(*big.Int))
	default:
		return fmt.Errorf("%s is not a transaction", method.Name)
	}
	return nil
}

func (c *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &types.Header{Number: big.NewInt(c.block)}, nil
}

func (c *fakeChain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

func (c *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (c *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (c *fakeChain) EstimateGas(_ context.Context, call ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.apply(call.From, call.Data, true); err != nil {
		return 0, err
	}
	return 100_000, nil
}

func (c *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return err
	}
	method, _, err := c.decode(tx.Data())
	if err != nil {
		return err
	}
	c.sent++
	c.nonces[from]++
	c.block++

	status := types.ReceiptStatusSuccessful
	if method.Name == c.revertMine {
		status = types.ReceiptStatusFailed
	} else if err := c.apply(from, tx.Data(), false); err != nil {
		status = types.ReceiptStatusFailed
	}
	c.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(c.block),
	}
	return nil
}

func (c *fakeChain) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (c *fakeChain) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions not supported")
}

// TransactionReceipt reports NotFound once per hash before returning the
// receipt, so callers have to poll.
func (c *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[hash]
	if !ok || !c.polled[hash] {
		c.polled[hash] = true
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (c *fakeChain) NetworkID(context.Context) (*big.Int, error) { return c.networkID, nil }

func (c *fakeChain) ChainID(context.Context) (*big.Int, error) { return c.chainID, nil }

func (c *fakeChain) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(c.block), nil
}

func (c *fakeChain) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeChain) txCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

func newTestKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, "0x" + hex.EncodeToString(crypto.FromECDSA(key))
}

func newTestGateway(t *testing.T, chain *fakeChain, wallet Wallet, deployed bool) *EthGateway {
	t.Helper()
	art, err := contracts.LoadArtifact("")
	require.NoError(t, err)
	if deployed {
		art = art.WithDeployments(map[string]string{"5777": testContract.Hex()})
	}
	gw, err := NewEthGateway(EthGatewayConfig{
		RPCURL:       "http://fake",
		Wallet:       wallet,
		Artifact:     art,
		PollInterval: time.Millisecond,
		Dial: func(context.Context, string) (Backend, error) {
			return chain, nil
		},
		Logger: log.New(nopWriter{}),
	})
	require.NoError(t, err)
	return gw
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestEthGatewayMortgageLifecycle(t *testing.T) {
	chain := newFakeChain(t)
	key, hexKey := newTestKey(t)
	wallet, err := NewKeyWallet(hexKey)
	require.NoError(t, err)
	gw := newTestGateway(t, chain, wallet, true)
	ctx := context.Background()

	conn, err := gw.Connect(ctx)
	require.NoError(t, err)
	borrower := crypto.PubkeyToAddress(key.PublicKey)
	assert.Equal(t, borrower, conn.Account())
	assert.Equal(t, testContract, conn.Contract)
	assert.Equal(t, "5777", conn.NetworkID.String())

	list, err := gw.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, gw.Create(ctx, big.NewInt(1000)))
	list, err = gw.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, uint64(1), list[0].ID)
	assert.Equal(t, borrower, list[0].Borrower)
	assert.Equal(t, "1000", list[0].Amount.String())
	assert.Equal(t, "0", list[0].PaidAmount.String())
	assert.False(t, list[0].Approved)

	require.NoError(t, gw.Approve(ctx, 1))
	list, err = gw.ListAll(ctx)
	require.NoError(t, err)
	assert.True(t, list[0].Approved)

	require.NoError(t, gw.Pay(ctx, 1, big.NewInt(200)))
	list, err = gw.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "200", list[0].PaidAmount.String())
	assert.Equal(t, 3, chain.txCount())
}

func TestEthGatewayListAllIsContiguous(t *testing.T) {
	chain := newFakeChain(t)
	_, hexKey := newTestKey(t)
	wallet, err := NewKeyWallet(hexKey)
	require.NoError(t, err)
	gw := newTestGateway(t, chain, wallet, true)
	ctx := context.Background()
	_, err = gw.Connect(ctx)
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, gw.Create(ctx, big.NewInt(int64(i*100))))
	}
	list, err := gw.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, list, 4)
	for i, m := range list {
		assert.Equal(t, uint64(i+1), m.ID)
	}
}

func TestEthGatewayListAllDiscardsPartialResult(t *testing.T) {
	chain := newFakeChain(t)
	_, hexKey := newTestKey(t)
	wallet, err := NewKeyWallet(hexKey)
	require.NoError(t, err)
	gw := newTestGateway(t, chain, wallet, true)
	ctx := context.Background()
	_, err = gw.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, gw.Create(ctx, big.NewInt(1)))
	require.NoError(t, gw.Create(ctx, big.NewInt(2)))

	chain.failRead = 2
	list, err := gw.ListAll(ctx)
	assert.ErrorIs(t, err, ErrContractError)
	assert.Nil(t, list)
}

func TestEthGatewayConnectWithoutWallet(t *testing.T) {
	chain := newFakeChain(t)
	gw := newTestGateway(t, chain, nil, true)

	_, err := gw.Connect(context.Background())
	assert.ErrorIs(t, err, ErrWalletUnavailable)

	err = gw.Create(context.Background(), big.NewInt(1))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, chain.txCount())
}

func TestEthGatewayConnectDialFailure(t *testing.T) {
	_, hexKey := newTestKey(t)
	wallet, err := NewKeyWallet(hexKey)
	require.NoError(t, err)
	gw, err := NewEthGateway(EthGatewayConfig{
		RPCURL: "http://unreachable",
		Wallet: wallet,
		Dial: func(context.Context, string) (Backend, error) {
			return nil, errors.New("connection refused")
		},
		Logger: log.New(nopWriter{}),
	})
	require.NoError(t, err)

	_, err = gw.Connect(context.Background())
	assert.ErrorIs(t, err, ErrWalletUnavailable)
}

func TestEthGatewayConnectNetworkMismatch(t *testing.T) {
	chain := newFakeChain(t)
	_, hexKey := newTestKey(t)
	wallet, err := NewKeyWallet(hexKey)
	require.NoError(t, err)
	gw := newTestGateway(t, chain, wallet, false)

	_, err = gw.Connect(context.Background())
	require.ErrorIs(t, err, ErrNetworkMismatch)
	assert.Contains(t, err.Error(), "5777")
	assert.True(t, chain.closed)

	_, err = gw.ListAll(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEthGatewayRevertIsContractError(t *testing.T) {
	chain := newFakeChain(t)
	_, hexKey := newTestKey(t)
	wallet, err := NewKeyWallet(hexKey)
	require.NoError(t, err)
	gw := newTestGateway(t, chain, wallet, true)
	ctx := context.Background()
	_, err = gw.Connect(ctx)
	require.NoError(t, err)

	// estimation revert: mortgage 7 does not exist
	err = gw.Approve(ctx, 7)
	assert.ErrorIs(t, err, ErrContractError)
	assert.Zero(t, chain.txCount())

	// mined with status 0
	chain.revertMine = "createMortgage"
	err = gw.Create(ctx, big.NewInt(10))
	assert.ErrorIs(t, err, ErrContractError)
	assert.Contains(t, err.Error(), "reverted")
}

func TestEthGatewayLockedKeystoreRejects(t *testing.T) {
	chain := newFakeChain(t)
	ks := keystore.NewKeyStore(t.TempDir(), keystore.LightScryptN, keystore.LightScryptP)
	_, err := ks.NewAccount("secret")
	require.NoError(t, err)

	gw := newTestGateway(t, chain, NewKeystoreWallet(ks, ""), true)
	ctx := context.Background()
	_, err = gw.Connect(ctx)
	require.NoError(t, err)

	err = gw.Create(ctx, big.NewInt(10))
	assert.ErrorIs(t, err, ErrTransactionRejected)
	assert.ErrorIs(t, err, keystore.ErrLocked)
	assert.Zero(t, chain.txCount())
}

func TestEthGatewayUnlockedKeystoreSigns(t *testing.T) {
	chain := newFakeChain(t)
	ks := keystore.NewKeyStore(t.TempDir(), keystore.LightScryptN, keystore.LightScryptP)
	acct, err := ks.NewAccount("secret")
	require.NoError(t, err)

	gw := newTestGateway(t, chain, NewKeystoreWallet(ks, "secret"), true)
	ctx := context.Background()
	conn, err := gw.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, acct.Address, conn.Account())

	require.NoError(t, gw.Create(ctx, big.NewInt(10)))
	list, err := gw.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, acct.Address, list[0].Borrower)
}

func TestEthGatewayWrongPassphraseIsWalletUnavailable(t *testing.T) {
	chain := newFakeChain(t)
	ks := keystore.NewKeyStore(t.TempDir(), keystore.LightScryptN, keystore.LightScryptP)
	_, err := ks.NewAccount("secret")
	require.NoError(t, err)

	gw := newTestGateway(t, chain, NewKeystoreWallet(ks, "wrong"), true)
	_, err = gw.Connect(context.Background())
	assert.ErrorIs(t, err, ErrWalletUnavailable)
}

func TestEthGatewayPingRequiresConnection(t *testing.T) {
	chain := newFakeChain(t)
	_, hexKey := newTestKey(t)
	wallet, err := NewKeyWallet(hexKey)
	require.NoError(t, err)
	gw := newTestGateway(t, chain, wallet, true)

	assert.ErrorIs(t, gw.Ping(context.Background()), ErrNotConnected)
	_, err = gw.Connect(context.Background())
	require.NoError(t, err)
	assert.NoError(t, gw.Ping(context.Background()))

	gw.Close()
	assert.True(t, chain.closed)
	assert.ErrorIs(t, gw.Ping(context.Background()), ErrNotConnected)
}

func TestNewEthGatewayRequiresRPCURL(t *testing.T) {
	_, err := NewEthGateway(EthGatewayConfig{})
	assert.Error(t, err)
}

func TestEthGatewayRefusesAmountsOutsideUint256(t *testing.T) {
	chain := newFakeChain(t)
	_, hexKey := newTestKey(t)
	wallet, err := NewKeyWallet(hexKey)
	require.NoError(t, err)
	gw := newTestGateway(t, chain, wallet, true)
	ctx := context.Background()
	_, err = gw.Connect(ctx)
	require.NoError(t, err)

	wrapped := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(5))
	huge, ok := new(big.Int).SetString("1"+strings.Repeat("0", 80), 10)
	require.True(t, ok)

	assert.ErrorIs(t, gw.Create(ctx, wrapped), ErrContractError)
	assert.ErrorIs(t, gw.Create(ctx, huge), ErrContractError)
	assert.ErrorIs(t, gw.Create(ctx, big.NewInt(-1)), ErrContractError)
	assert.ErrorIs(t, gw.Pay(ctx, 1, wrapped), ErrContractError)
	assert.Zero(t, chain.txCount(), "nothing may be sent")

	list, err := gw.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	maxUint := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	require.NoError(t, gw.Create(ctx, maxUint))
	list, err = gw.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, maxUint.String(), list[0].Amount.String())
}
