package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// InfoClient is the slice of the /info API the market table needs.
type InfoClient interface {
	InfoAny(ctx context.Context, req any) (any, error)
}

// Table maps a user facing symbol ("BTC", "HYPE/USDC") to its market.
type Table map[string]*Info

// Lookup resolves a symbol, accepting the venue coin code as a fallback.
func (t Table) Lookup(symbol string) (*Info, bool) {
	if info, ok := t[symbol]; ok {
		return info, true
	}
	for _, info := range t {
		if info.Coin == symbol {
			return info, true
		}
	}
	return nil, false
}

// LoadTable fetches perp and spot metadata and merges them into one table.
func LoadTable(ctx context.Context, client InfoClient) (Table, error) {
	if client == nil {
		return nil, errors.New("info client is required")
	}
	perpResp, err := client.InfoAny(ctx, map[string]any{"type": "meta"})
	if err != nil {
		return nil, fmt.Errorf("fetch perp meta: %w", err)
	}
	spotResp, err := client.InfoAny(ctx, map[string]any{"type": "spotMeta"})
	if err != nil {
		return nil, fmt.Errorf("fetch spot meta: %w", err)
	}
	perps, err := ParsePerpMeta(perpResp)
	if err != nil {
		return nil, err
	}
	spots, err := ParseSpotMeta(spotResp)
	if err != nil {
		return nil, err
	}
	table := make(Table, len(perps)+len(spots))
	for symbol, info := range perps {
		table[symbol] = info
	}
	for symbol, info := range spots {
		table[symbol] = info
	}
	return table, nil
}

// FetchMids returns the venue's current mid prices keyed by coin code.
func FetchMids(ctx context.Context, client InfoClient) (map[string]float64, error) {
	resp, err := client.InfoAny(ctx, map[string]any{"type": "allMids"})
	if err != nil {
		return nil, err
	}
	mids := ParseMids(resp)
	if len(mids) == 0 {
		return nil, errors.New("allMids returned no prices")
	}
	return mids, nil
}

func ParsePerpMeta(payload any) (Table, error) {
	meta, ok := toMap(payload)
	if !ok {
		return nil, errors.New("perp meta is not an object")
	}
	universe, _ := toSlice(meta["universe"])
	if len(universe) == 0 {
		return nil, errors.New("perp meta missing universe")
	}
	result := make(Table, len(universe))
	for i, entry := range universe {
		asset, ok := toMap(entry)
		if !ok {
			continue
		}
		name := stringFromMap(asset, "name")
		if name == "" || boolFromAny(asset["isDelisted"]) {
			continue
		}
		info := NewInfo(name, name, KindPerp, i, intFromAny(asset["szDecimals"], 0))
		info.MaxLeverage = intFromAny(asset["maxLeverage"], 0)
		info.Base = name
		info.Quote = "USDC"
		result[name] = info
	}
	if len(result) == 0 {
		return nil, errors.New("no perp markets parsed")
	}
	return result, nil
}

type tokenMeta struct {
	name       string
	szDecimals int
}

func ParseSpotMeta(payload any) (Table, error) {
	meta, ok := toMap(payload)
	if !ok {
		return nil, errors.New("spot meta is not an object")
	}
	universe, _ := toSlice(meta["universe"])
	if len(universe) == 0 {
		return nil, errors.New("spot meta missing universe")
	}
	rawTokens, _ := toSlice(meta["tokens"])
	tokens := tokenMetaByIndex(rawTokens)
	result := make(Table, len(universe))
	for i, entry := range universe {
		pair, ok := toMap(entry)
		if !ok {
			continue
		}
		coin := stringFromMap(pair, "name")
		pairTokens, _ := toSlice(pair["tokens"])
		if coin == "" || len(pairTokens) < 2 {
			continue
		}
		base, okBase := tokens[intFromAny(pairTokens[0], -1)]
		quote, okQuote := tokens[intFromAny(pairTokens[1], -1)]
		if !okBase || !okQuote {
			continue
		}
		symbol := base.name + "/" + quote.name
		if _, exists := result[symbol]; exists {
			continue
		}
		index := intFromAny(pair["index"], i)
		info := NewInfo(symbol, coin, KindSpot, SpotAssetOffset+index, base.szDecimals)
		info.Base = base.name
		info.Quote = quote.name
		result[symbol] = info
	}
	if len(result) == 0 {
		return nil, errors.New("no spot markets parsed")
	}
	return result, nil
}

func tokenMetaByIndex(tokens []any) map[int]tokenMeta {
	out := make(map[int]tokenMeta, len(tokens))
	for i, item := range tokens {
		meta, ok := toMap(item)
		if !ok {
			continue
		}
		name := stringFromMap(meta, "name")
		if name == "" {
			continue
		}
		out[intFromAny(meta["index"], i)] = tokenMeta{
			name:       name,
			szDecimals: intFromAny(meta["szDecimals"], 0),
		}
	}
	return out
}

// ParseMids accepts either the /info allMids object or the data section of an
// allMids stream message.
func ParseMids(payload any) map[string]float64 {
	root, ok := toMap(payload)
	if !ok {
		return nil
	}
	if nested, ok := toMap(root["mids"]); ok {
		root = nested
	}
	mids := make(map[string]float64, len(root))
	for coin, raw := range root {
		if px, ok := floatFromAny(raw); ok && px > 0 {
			mids[strings.TrimSpace(coin)] = px
		}
	}
	return mids
}
