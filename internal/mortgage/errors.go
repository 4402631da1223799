package mortgage

import "errors"

var (
	ErrWalletUnavailable   = errors.New("wallet unavailable")
	ErrNetworkMismatch     = errors.New("contract not deployed on network")
	ErrTransactionRejected = errors.New("transaction rejected")
	ErrContractError       = errors.New("contract error")
	ErrNotConnected        = errors.New("wallet not connected")
)
