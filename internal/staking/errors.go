package staking

import (
	"errors"
	"fmt"

	"stakeledger/internal/custody"
)

var (
	ErrInvalidWindow      = errors.New("invalid staking window")
	ErrAlreadyInitialized = errors.New("pool already initialized")
	ErrZeroAmount         = errors.New("amount must be greater than zero")
	ErrPoolInactive       = errors.New("pool is not accepting stakes")
	ErrNoActivePosition   = errors.New("no active position")
	ErrTransferFailed     = errors.New("token transfer failed")
	ErrMintFailed         = errors.New("token mint failed")

	// ErrAccounting marks an invariant violation. It is never expected in
	// correct operation and aborts the transition.
	ErrAccounting = errors.New("accounting invariant violated")

	ErrPoolNotFound      = errors.New("pool not found")
	ErrUnauthorized      = errors.New("caller not authorized")
	ErrPositionLocked    = errors.New("position is still locked")
	ErrInvalidRate       = errors.New("invalid reward rate")
	ErrInvalidRewardMode = errors.New("invalid reward mode")
)

// classifyCustodyErr maps a custody failure onto the ledger error kinds.
func classifyCustodyErr(err error) error {
	if err == nil {
		return nil
	}
	var opErr *custody.OpError
	if errors.As(err, &opErr) && opErr.Op.Kind == custody.OpMint {
		return fmt.Errorf("%w: %w", ErrMintFailed, err)
	}
	return fmt.Errorf("%w: %w", ErrTransferFailed, err)
}
