package custody

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// Genesis seeds token balances and mint authorities.
type Genesis struct {
	Tokens []GenesisToken `yaml:"tokens"`
}

// GenesisToken lists the initial holders of one token.
type GenesisToken struct {
	Address  string            `yaml:"address"`
	Minter   string            `yaml:"minter"`
	Balances map[string]string `yaml:"balances"`
}

// LoadGenesis reads a YAML genesis file.
func LoadGenesis(path string) (Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, fmt.Errorf("read genesis: %w", err)
	}
	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return Genesis{}, fmt.Errorf("parse genesis: %w", err)
	}
	return g, nil
}

// Seed credits every genesis balance into the book.
func (g Genesis) Seed(b *Book) error {
	for _, tok := range g.Tokens {
		token, err := parseAddress(tok.Address)
		if err != nil {
			return fmt.Errorf("genesis token: %w", err)
		}
		if strings.TrimSpace(tok.Minter) != "" {
			minter, err := parseAddress(tok.Minter)
			if err != nil {
				return fmt.Errorf("genesis minter: %w", err)
			}
			b.SetMinter(token, minter)
		}
		for holder, value := range tok.Balances {
			account, err := parseAddress(holder)
			if err != nil {
				return fmt.Errorf("genesis holder: %w", err)
			}
			amount, err := uint256.FromDecimal(strings.TrimSpace(value))
			if err != nil {
				return fmt.Errorf("genesis balance %s: %w", holder, err)
			}
			if err := b.Credit(token, account, amount); err != nil {
				return fmt.Errorf("credit %s: %w", holder, err)
			}
		}
	}
	return nil
}

func parseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input), nil
}
