package mortgage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"mortgagedapp/internal/contracts"

	"github.com/charmbracelet/log"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is everything the gateway needs from an RPC endpoint.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	NetworkID(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Dialer opens a Backend for an RPC URL.
type Dialer func(ctx context.Context, rpcURL string) (Backend, error)

// DialEthClient is the default Dialer.
func DialEthClient(ctx context.Context, rpcURL string) (Backend, error) {
	cli, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return cli, nil
}

// EthGateway drives the Mortgage contract through go-ethereum bindings.
type EthGateway struct {
	rpcURL       string
	wallet       Wallet
	artifact     *contracts.Artifact
	pollInterval time.Duration
	dial         Dialer
	logger       *log.Logger

	mu   sync.RWMutex
	conn *ethConnection
}

type EthGatewayConfig struct {
	RPCURL string
	// Wallet may be nil; Connect then fails with ErrWalletUnavailable.
	Wallet       Wallet
	Artifact     *contracts.Artifact
	PollInterval time.Duration
	Dial         Dialer
	Logger       *log.Logger
}

type ethConnection struct {
	info      Connection
	backend   Backend
	contract  *bind.BoundContract
	transacts *bind.TransactOpts
}

func NewEthGateway(cfg EthGatewayConfig) (*EthGateway, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	art := cfg.Artifact
	if art == nil {
		var err error
		art, err = contracts.LoadArtifact("")
		if err != nil {
			return nil, err
		}
	}
	dial := cfg.Dial
	if dial == nil {
		dial = DialEthClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &EthGateway{
		rpcURL:       cfg.RPCURL,
		wallet:       cfg.Wallet,
		artifact:     art,
		pollInterval: cfg.PollInterval,
		dial:         dial,
		logger:       logger.WithPrefix("gateway"),
	}, nil
}

func (g *EthGateway) Connect(ctx context.Context) (Connection, error) {
	if g.wallet == nil {
		return Connection{}, fmt.Errorf("%w: no wallet configured", ErrWalletUnavailable)
	}

	accts, err := g.wallet.RequestAccounts(ctx)
	if err != nil {
		return Connection{}, fmt.Errorf("%w: request accounts: %w", ErrWalletUnavailable, err)
	}
	if len(accts) == 0 {
		return Connection{}, fmt.Errorf("%w: wallet exposes no accounts", ErrWalletUnavailable)
	}

	backend, err := g.dial(ctx, g.rpcURL)
	if err != nil {
		return Connection{}, fmt.Errorf("%w: dial rpc: %w", ErrWalletUnavailable, err)
	}

	conn, err := g.open(ctx, backend, accts)
	if err != nil {
		backend.Close()
		return Connection{}, err
	}

	g.mu.Lock()
	prev := g.conn
	g.conn = conn
	g.mu.Unlock()
	if prev != nil && prev.backend != backend {
		prev.backend.Close()
	}

	g.logger.Info("connected",
		"account", conn.info.Account().Hex(),
		"network", conn.info.NetworkID.String(),
		"contract", conn.info.Contract.Hex())
	return cloneConnection(conn.info), nil
}

func (g *EthGateway) open(ctx context.Context, backend Backend, accts []common.Address) (*ethConnection, error) {
	networkID, err := backend.NetworkID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read network id: %w", ErrWalletUnavailable, err)
	}
	address, ok := g.artifact.AddressFor(networkID)
	if !ok {
		return nil, fmt.Errorf("%w %s; switch to a network the contract is deployed on", ErrNetworkMismatch, networkID.String())
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read chain id: %w", ErrWalletUnavailable, err)
	}

	txOpts, err := g.wallet.Transactor(accts[0], chainID)
	if err != nil {
		return nil, fmt.Errorf("%w: transactor: %w", ErrWalletUnavailable, err)
	}
	txOpts.GasLimit = 0 // let node estimate
	txOpts.GasPrice = nil
	txOpts.Nonce = nil
	guardSigner(txOpts)

	return &ethConnection{
		info: Connection{
			Accounts:  append([]common.Address(nil), accts...),
			NetworkID: networkID,
			ChainID:   chainID,
			Contract:  address,
		},
		backend:   backend,
		contract:  bind.NewBoundContract(address, g.artifact.ABI, backend, backend, backend),
		transacts: txOpts,
	}, nil
}

func (g *EthGateway) current() (*ethConnection, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.conn == nil {
		return nil, ErrNotConnected
	}
	return g.conn, nil
}

func (g *EthGateway) Create(ctx context.Context, amount *big.Int) error {
	if err := checkUint256("createMortgage", amount); err != nil {
		return err
	}
	return g.transact(ctx, "createMortgage", amount)
}

func (g *EthGateway) Approve(ctx context.Context, id uint64) error {
	return g.transact(ctx, "approveMortgage", new(big.Int).SetUint64(id))
}

func (g *EthGateway) Pay(ctx context.Context, id uint64, amount *big.Int) error {
	if err := checkUint256("makePayment", amount); err != nil {
		return err
	}
	return g.transact(ctx, "makePayment", new(big.Int).SetUint64(id), amount)
}

// checkUint256 refuses values the ABI packer would silently wrap modulo 2^256.
func checkUint256(method string, v *big.Int) error {
	if v == nil || v.Sign() < 0 || v.BitLen() > 256 {
		return fmt.Errorf("%w: %s: amount %v does not fit uint256", ErrContractError, method, v)
	}
	return nil
}

func (g *EthGateway) transact(ctx context.Context, method string, params ...interface{}) error {
	conn, err := g.current()
	if err != nil {
		return err
	}

	opts := *conn.transacts
	opts.Context = ctx

	tx, err := conn.contract.Transact(&opts, method, params...)
	if err != nil {
		var se *signerError
		if errors.As(err, &se) {
			return fmt.Errorf("%w: %s: %w", ErrTransactionRejected, method, se.err)
		}
		return fmt.Errorf("%w: %s tx: %w", ErrContractError, method, err)
	}
	g.logger.Debug("transaction sent", "method", method, "tx", tx.Hash().Hex())

	receipt, err := WaitForReceipt(ctx, conn.backend, tx.Hash(), g.pollInterval)
	if err != nil {
		return fmt.Errorf("%w: wait for %s receipt: %w", ErrContractError, method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s reverted in tx %s", ErrContractError, method, tx.Hash().Hex())
	}
	g.logger.Info("transaction mined", "method", method, "tx", tx.Hash().Hex(), "block", receipt.BlockNumber)
	return nil
}

// ListAll reads mortgageCount and then every mortgage from 1 to count, one call
// per id. A single failed read discards the whole result.
func (g *EthGateway) ListAll(ctx context.Context) ([]Mortgage, error) {
	conn, err := g.current()
	if err != nil {
		return nil, err
	}
	opts := &bind.CallOpts{Context: ctx, From: conn.info.Account()}

	var out []interface{}
	if err := conn.contract.Call(opts, &out, "mortgageCount"); err != nil {
		return nil, fmt.Errorf("%w: mortgageCount: %w", ErrContractError, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: mortgageCount returned %d values", ErrContractError, len(out))
	}
	count := abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	if !count.IsUint64() {
		return nil, fmt.Errorf("%w: mortgage count %s out of range", ErrContractError, count.String())
	}

	n := count.Uint64()
	list := make([]Mortgage, 0, min(n, 1024))
	for id := uint64(1); id <= n; id++ {
		m, err := getMortgage(conn.contract, opts, id)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, nil
}

func getMortgage(contract *bind.BoundContract, opts *bind.CallOpts, id uint64) (Mortgage, error) {
	var out []interface{}
	if err := contract.Call(opts, &out, "getMortgage", new(big.Int).SetUint64(id)); err != nil {
		return Mortgage{}, fmt.Errorf("%w: getMortgage(%d): %w", ErrContractError, id, err)
	}
	if len(out) != 4 {
		return Mortgage{}, fmt.Errorf("%w: getMortgage(%d) returned %d values", ErrContractError, id, len(out))
	}
	return Mortgage{
		ID:         id,
		Borrower:   *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		Amount:     abi.ConvertType(out[1], new(big.Int)).(*big.Int),
		PaidAmount: abi.ConvertType(out[2], new(big.Int)).(*big.Int),
		Approved:   *abi.ConvertType(out[3], new(bool)).(*bool),
	}, nil
}

func (g *EthGateway) Ping(ctx context.Context) error {
	conn, err := g.current()
	if err != nil {
		return err
	}
	_, err = conn.backend.BlockNumber(ctx)
	return err
}

// Close releases the RPC connection, if any.
func (g *EthGateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn != nil {
		g.conn.backend.Close()
		g.conn = nil
	}
}

func cloneConnection(c Connection) Connection {
	out := c
	out.Accounts = append([]common.Address(nil), c.Accounts...)
	out.NetworkID = cloneInt(c.NetworkID)
	out.ChainID = cloneInt(c.ChainID)
	return out
}
