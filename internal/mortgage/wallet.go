package mortgage

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet is the signer provider: it exposes accounts and signs transactions.
type Wallet interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	Transactor(account common.Address, chainID *big.Int) (*bind.TransactOpts, error)
}

// KeyWallet signs with raw secp256k1 keys held in memory.
type KeyWallet struct {
	keys []*ecdsa.PrivateKey
}

// NewKeyWallet parses hex private keys (with or without 0x prefix).
func NewKeyWallet(hexKeys ...string) (*KeyWallet, error) {
	w := &KeyWallet{}
	for _, hk := range hexKeys {
		if strings.TrimSpace(hk) == "" {
			continue
		}
		key, err := parsePrivateKey(hk)
		if err != nil {
			return nil, err
		}
		w.keys = append(w.keys, key)
	}
	if len(w.keys) == 0 {
		return nil, fmt.Errorf("at least one private key is required")
	}
	return w, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (w *KeyWallet) RequestAccounts(_ context.Context) ([]common.Address, error) {
	out := make([]common.Address, 0, len(w.keys))
	for _, k := range w.keys {
		out = append(out, crypto.PubkeyToAddress(k.PublicKey))
	}
	return out, nil
}

func (w *KeyWallet) Transactor(account common.Address, chainID *big.Int) (*bind.TransactOpts, error) {
	for _, k := range w.keys {
		if crypto.PubkeyToAddress(k.PublicKey) == account {
			return bind.NewKeyedTransactorWithChainID(k, chainID)
		}
	}
	return nil, fmt.Errorf("no key for account %s", account.Hex())
}

// KeystoreWallet signs through an encrypted go-ethereum keystore directory.
// Without a passphrase the accounts stay locked and the keystore refuses to sign.
type KeystoreWallet struct {
	ks         *keystore.KeyStore
	passphrase string
}

func NewKeystoreWallet(ks *keystore.KeyStore, passphrase string) *KeystoreWallet {
	return &KeystoreWallet{ks: ks, passphrase: passphrase}
}

// OpenKeystoreWallet opens dir with the standard scrypt parameters.
func OpenKeystoreWallet(dir, passphrase string) *KeystoreWallet {
	return NewKeystoreWallet(keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP), passphrase)
}

func (w *KeystoreWallet) RequestAccounts(_ context.Context) ([]common.Address, error) {
	accts := w.ks.Accounts()
	out := make([]common.Address, 0, len(accts))
	for _, a := range accts {
		if w.passphrase != "" {
			if err := w.ks.Unlock(a, w.passphrase); err != nil {
				return nil, fmt.Errorf("unlock %s: %w", a.Address.Hex(), err)
			}
		}
		out = append(out, a.Address)
	}
	return out, nil
}

func (w *KeystoreWallet) Transactor(account common.Address, chainID *big.Int) (*bind.TransactOpts, error) {
	return bind.NewKeyStoreTransactorWithChainID(w.ks, accounts.Account{Address: account}, chainID)
}

// signerError marks failures raised by the wallet while signing, so they can be
// reported as rejections rather than contract failures.
type signerError struct {
	err error
}

func (e *signerError) Error() string { return "signer: " + e.err.Error() }
func (e *signerError) Unwrap() error { return e.err }

func guardSigner(opts *bind.TransactOpts) {
	inner := opts.Signer
	opts.Signer = func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
		signed, err := inner(addr, tx)
		if err != nil {
			return nil, &signerError{err: err}
		}
		return signed, nil
	}
}
