package model

import "github.com/ethereum/go-ethereum/common"

// TokenMeta captures ERC20 metadata of a staked token.
type TokenMeta struct {
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
}
