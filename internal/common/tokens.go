/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

const (
	DefaultTokenSymbol   = "TOKEN"
	DefaultTokenDecimals = 18
)

type TokenConfig struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals int32  `yaml:"decimals"`
}

type TokensConfig struct {
	Tokens []TokenConfig `yaml:"tokens"`
}

var defaultTokens = []TokenConfig{
	{Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Symbol: "USDC", Decimals: 6},
	{Address: "0x1c7d4b196cb0c7b01d743fbc6116a902379c7238", Symbol: "USDC", Decimals: 6},
	{Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Symbol: "USDT", Decimals: 6},
	{Address: "0x6b175474e89094c44da98b954eedeac495271d0f", Symbol: "DAI", Decimals: 18},
}

// TokenRegistry maps lowercase token addresses to display metadata
type TokenRegistry struct {
	tokens map[string]TokenConfig
}

func NewTokenRegistry(tokens []TokenConfig) *TokenRegistry {
	r := &TokenRegistry{tokens: make(map[string]TokenConfig, len(tokens))}
	for _, token := range tokens {
		token.Address = strings.ToLower(token.Address)
		r.tokens[token.Address] = token
	}
	return r
}

// LoadTokenRegistry returns the built-in tokens, extended or overridden by
// the entries of tokensFile when one is given.
func LoadTokenRegistry(tokensFile string) (*TokenRegistry, error) {
	tokens := append([]TokenConfig(nil), defaultTokens...)
	if tokensFile == "" {
		return NewTokenRegistry(tokens), nil
	}

	loaded, err := LoadTokenConfig(tokensFile)
	if err != nil {
		return nil, err
	}
	return NewTokenRegistry(append(tokens, loaded...)), nil
}

func LoadTokenConfig(tokensFile string) ([]TokenConfig, error) {
	var tokensPath string
	if filepath.IsAbs(tokensFile) {
		tokensPath = tokensFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		tokensPath = filepath.Join(wd, tokensFile)
	}

	data, err := os.ReadFile(tokensPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", tokensFile, err)
	}

	var config TokensConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", tokensFile, err)
	}

	for i, token := range config.Tokens {
		if token.Address == "" {
			return nil, fmt.Errorf("token at index %d missing address", i)
		}
		if token.Symbol == "" {
			return nil, fmt.Errorf("token at index %d missing symbol", i)
		}
		if token.Decimals < 0 || token.Decimals > 36 {
			return nil, fmt.Errorf("token at index %d has invalid decimals %d", i, token.Decimals)
		}
	}

	return config.Tokens, nil
}

func (r *TokenRegistry) Len() int {
	return len(r.tokens)
}

// Lookup returns the metadata for a token, falling back to TOKEN with 18 decimals.
func (r *TokenRegistry) Lookup(address string) TokenConfig {
	if token, ok := r.tokens[strings.ToLower(address)]; ok {
		return token
	}
	return TokenConfig{Address: strings.ToLower(address), Symbol: DefaultTokenSymbol, Decimals: DefaultTokenDecimals}
}

// Format renders a smallest-unit amount for humans, e.g. "1.50 USDC".
// Tokens with up to 6 decimals get 2 places, others get 4.
func (r *TokenRegistry) Format(address string, amount decimal.Decimal) string {
	token := r.Lookup(address)
	value := amount.Shift(-token.Decimals)

	places := int32(4)
	if token.Decimals <= 6 {
		places = 2
	}
	return value.StringFixedBank(places) + " " + token.Symbol
}
