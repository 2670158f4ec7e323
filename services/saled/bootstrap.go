package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"cratsale/native/bank"
	"cratsale/native/sale"
	"cratsale/services/saled/config"
	"cratsale/storage"
)

// openLedger registers every configured token and mints the configured
// allocations of each token whose total supply is still zero. A token's
// allocations are minted in one atomic write, so a restart either finds them
// all or mints them all; it never mints twice.
func openLedger(cfg config.Config, db storage.Database, logger *slog.Logger) (*bank.Ledger, error) {
	ledger, err := bank.NewLedger(db)
	if err != nil {
		return nil, err
	}
	ledger.SetLogger(logger)
	for _, token := range cfg.Tokens {
		if _, err := ledger.Register(common.HexToAddress(token.Address), token.Symbol, token.Decimals); err != nil {
			return nil, fmt.Errorf("register %s: %w", token.Symbol, err)
		}
	}

	var order []common.Address
	credits := make(map[common.Address][]bank.Credit)
	for i, alloc := range cfg.Allocations {
		token, ok := cfg.TokenAddress(alloc.Token)
		if !ok {
			return nil, fmt.Errorf("allocations[%d]: unknown token %q", i, alloc.Token)
		}
		amount, err := sale.ParseUnits(alloc.Amount)
		if err != nil {
			return nil, fmt.Errorf("allocations[%d]: %w", i, err)
		}
		if _, seen := credits[token]; !seen {
			order = append(order, token)
		}
		credits[token] = append(credits[token], bank.Credit{To: common.HexToAddress(alloc.Holder), Amount: amount})
	}

	for _, token := range order {
		info, err := ledger.Token(token)
		if err != nil {
			return nil, err
		}
		if info.TotalSupply.Sign() != 0 {
			continue
		}
		if err := ledger.MintAll(token, credits[token]); err != nil {
			return nil, fmt.Errorf("mint %s allocations: %w", info.Symbol, err)
		}
		for _, credit := range credits[token] {
			logger.Info("saled: allocation minted",
				slog.String("token", strings.ToUpper(info.Symbol)),
				slog.String("holder", credit.To.Hex()),
				slog.String("amount", sale.FormatUnits(credit.Amount)))
		}
	}
	return ledger, nil
}
