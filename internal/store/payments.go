package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/blocknetdx/eth-payment-processor/internal/model"
)

func (q queries) GetPayment(ctx context.Context, projectID uuid.UUID) (*model.Payment, error) {
	pay := model.NewPayment(projectID)
	var seen string
	err := q.q.QueryRow(ctx, `
		SELECT pending, quote_start_time, seen_tx_hashes, updated_at
		FROM payments WHERE project_id = $1`+q.suffix,
		projectID,
	).Scan(&pay.Pending, &pay.QuoteStartTime, &seen, &pay.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	if seen != "" {
		pay.SeenTxHashes = strings.Split(seen, ",")
	}

	if err := q.loadDeposits(ctx, pay); err != nil {
		return nil, err
	}
	if err := q.loadQuotes(ctx, pay); err != nil {
		return nil, err
	}
	return pay, nil
}

func (q queries) GetPaymentByAddress(ctx context.Context, coin model.Coin, address string) (*model.Payment, error) {
	var projectID uuid.UUID
	err := q.q.QueryRow(ctx, `
		SELECT project_id FROM deposit_addresses
		WHERE chain = $1 AND LOWER(address) = LOWER($2)
	`, coin.Chain(), address).Scan(&projectID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment by address: %w", err)
	}
	return q.GetPayment(ctx, projectID)
}

func (q queries) WatchedAddresses(ctx context.Context, ch model.Chain) ([]string, error) {
	rows, err := q.q.Query(ctx, `
		SELECT d.address
		FROM deposit_addresses d
		JOIN payments p ON p.project_id = d.project_id
		WHERE d.chain = $1 AND d.address <> '' AND p.quote_start_time IS NOT NULL
		ORDER BY d.created_at
	`, ch)
	if err != nil {
		return nil, fmt.Errorf("list watched addresses: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan watched address: %w", err)
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

// SavePayment upserts the payment with its deposits and coin quotes.
// Deposit rows are write-once.
func (q queries) SavePayment(ctx context.Context, pay *model.Payment) error {
	err := q.q.QueryRow(ctx, `
		INSERT INTO payments (project_id, pending, quote_start_time, seen_tx_hashes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id) DO UPDATE SET
			pending = EXCLUDED.pending,
			quote_start_time = EXCLUDED.quote_start_time,
			seen_tx_hashes = EXCLUDED.seen_tx_hashes,
			updated_at = NOW()
		RETURNING updated_at
	`, pay.ProjectID, pay.Pending, pay.QuoteStartTime, strings.Join(pay.SeenTxHashes, ",")).Scan(&pay.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save payment: %w", err)
	}

	for _, ch := range model.Chains() {
		d, ok := pay.Deposits[ch]
		if !ok {
			continue
		}
		_, err := q.q.Exec(ctx, `
			INSERT INTO deposit_addresses (project_id, chain, deposit_token, address, sealed_key)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (project_id, chain) DO NOTHING
		`, pay.ProjectID, ch, d.Token, d.Address, d.SealedKey)
		if err != nil {
			return fmt.Errorf("insert deposit address %s: %w", ch, err)
		}
	}

	for _, coin := range model.AllCoins() {
		cq, ok := pay.Quotes[coin]
		if !ok {
			continue
		}
		_, err := q.q.Exec(ctx, `
			INSERT INTO coin_quotes (project_id, coin, min_amount, tier1_amount, tier2_amount, credited_amount, uncredited_amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (project_id, coin) DO UPDATE SET
				min_amount = EXCLUDED.min_amount,
				tier1_amount = EXCLUDED.tier1_amount,
				tier2_amount = EXCLUDED.tier2_amount,
				credited_amount = EXCLUDED.credited_amount,
				uncredited_amount = EXCLUDED.uncredited_amount
		`, pay.ProjectID, coin, cq.MinAmount, cq.Tier1Amount, cq.Tier2Amount, cq.CreditedAmount, cq.UncreditedAmount)
		if err != nil {
			return fmt.Errorf("upsert coin quote %s: %w", coin, err)
		}
	}
	return nil
}

func (q queries) loadDeposits(ctx context.Context, pay *model.Payment) error {
	rows, err := q.q.Query(ctx, `
		SELECT chain, deposit_token, address, sealed_key
		FROM deposit_addresses WHERE project_id = $1
	`, pay.ProjectID)
	if err != nil {
		return fmt.Errorf("load deposit addresses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d model.Deposit
		if err := rows.Scan(&d.Chain, &d.Token, &d.Address, &d.SealedKey); err != nil {
			return fmt.Errorf("scan deposit address: %w", err)
		}
		pay.Deposits[d.Chain] = &d
	}
	return rows.Err()
}

func (q queries) loadQuotes(ctx context.Context, pay *model.Payment) error {
	rows, err := q.q.Query(ctx, `
		SELECT coin, min_amount, tier1_amount, tier2_amount, credited_amount, uncredited_amount
		FROM coin_quotes WHERE project_id = $1
	`, pay.ProjectID)
	if err != nil {
		return fmt.Errorf("load coin quotes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cq                   model.CoinQuote
			credited, uncredited decimal.Decimal
		)
		if err := rows.Scan(&cq.Coin, &cq.MinAmount, &cq.Tier1Amount, &cq.Tier2Amount, &credited, &uncredited); err != nil {
			return fmt.Errorf("scan coin quote: %w", err)
		}
		cq.CreditedAmount = credited
		cq.UncreditedAmount = uncredited
		pay.Quotes[cq.Coin] = &cq
	}
	return rows.Err()
}
