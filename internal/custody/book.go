package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// OpKind is the kind of a custody operation.
type OpKind string

const (
	OpTransfer OpKind = "transfer"
	OpMint     OpKind = "mint"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMintAuthority       = errors.New("mint authority mismatch")
	ErrSupplyOverflow      = errors.New("token supply overflow")
	ErrInvalidOp           = errors.New("invalid custody operation")
)

// Op is one token movement instruction.
type Op struct {
	Kind      OpKind         `json:"kind"`
	Token     common.Address `json:"token"`
	From      common.Address `json:"from,omitempty"`
	To        common.Address `json:"to"`
	Amount    *uint256.Int   `json:"amount"`
	Authority common.Address `json:"authority,omitempty"`
}

// Transfer builds a transfer operation.
func Transfer(token, from, to common.Address, amount *uint256.Int) Op {
	return Op{Kind: OpTransfer, Token: token, From: from, To: to, Amount: amount}
}

// Mint builds a mint operation signed by authority.
func Mint(token, to common.Address, amount *uint256.Int, authority common.Address) Op {
	return Op{Kind: OpMint, Token: token, To: to, Amount: amount, Authority: authority}
}

// OpError reports which operation of a batch failed.
type OpError struct {
	Index int
	Op    Op
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s op %d (token %s): %v", e.Op.Kind, e.Index, e.Op.Token.Hex(), e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

type balanceKey struct {
	token   common.Address
	account common.Address
}

// Book is an in-memory token custody that applies operation batches
// atomically: either every operation of a batch lands or none does.
type Book struct {
	mu       sync.RWMutex
	balances map[balanceKey]*uint256.Int
	supply   map[common.Address]*uint256.Int
	minters  map[common.Address]common.Address
}

func NewBook() *Book {
	return &Book{
		balances: make(map[balanceKey]*uint256.Int),
		supply:   make(map[common.Address]*uint256.Int),
		minters:  make(map[common.Address]common.Address),
	}
}

// SetMinter restricts minting of token to authority. Tokens without a
// registered minter accept any authority.
func (b *Book) SetMinter(token, authority common.Address) {
	b.mu.Lock()
	b.minters[token] = authority
	b.mu.Unlock()
}

// Credit adds amount to an account outside of any batch. It is used to
// seed balances from genesis.
func (b *Book) Credit(token, account common.Address, amount *uint256.Int) error {
	return b.apply([]Op{{Kind: OpMint, Token: token, To: account, Amount: amount}}, false)
}

// BalanceOf returns the balance of account in token.
func (b *Book) BalanceOf(token, account common.Address) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if bal, ok := b.balances[balanceKey{token, account}]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

// Supply returns the total supply tracked for token.
func (b *Book) Supply(token common.Address) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.supply[token]; ok {
		return s.Clone()
	}
	return new(uint256.Int)
}

// Apply executes ops as one atomic unit.
func (b *Book) Apply(ctx context.Context, ops []Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.apply(ops, true)
}

func (b *Book) apply(ops []Op, checkAuthority bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Stage every touched entry on a scratch copy and commit at the end.
	staged := make(map[balanceKey]*uint256.Int)
	stagedSupply := make(map[common.Address]*uint256.Int)
	balance := func(k balanceKey) *uint256.Int {
		if v, ok := staged[k]; ok {
			return v
		}
		v := new(uint256.Int)
		if cur, ok := b.balances[k]; ok {
			v.Set(cur)
		}
		staged[k] = v
		return v
	}
	supply := func(token common.Address) *uint256.Int {
		if v, ok := stagedSupply[token]; ok {
			return v
		}
		v := new(uint256.Int)
		if cur, ok := b.supply[token]; ok {
			v.Set(cur)
		}
		stagedSupply[token] = v
		return v
	}

	for i, op := range ops {
		if op.Amount == nil {
			return &OpError{Index: i, Op: op, Err: ErrInvalidOp}
		}
		switch op.Kind {
		case OpTransfer:
			from := balance(balanceKey{op.Token, op.From})
			if from.Lt(op.Amount) {
				return &OpError{Index: i, Op: op, Err: ErrInsufficientBalance}
			}
			from.Sub(from, op.Amount)
			to := balance(balanceKey{op.Token, op.To})
			to.Add(to, op.Amount)
		case OpMint:
			if checkAuthority {
				if minter, ok := b.minters[op.Token]; ok && minter != op.Authority {
					return &OpError{Index: i, Op: op, Err: ErrMintAuthority}
				}
			}
			s := supply(op.Token)
			if _, overflow := s.AddOverflow(s, op.Amount); overflow {
				return &OpError{Index: i, Op: op, Err: ErrSupplyOverflow}
			}
			to := balance(balanceKey{op.Token, op.To})
			to.Add(to, op.Amount)
		default:
			return &OpError{Index: i, Op: op, Err: ErrInvalidOp}
		}
	}

	for k, v := range staged {
		b.balances[k] = v
	}
	for k, v := range stagedSupply {
		b.supply[k] = v
	}
	return nil
}
