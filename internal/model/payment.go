package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Deposit is the single-use receiving address minted for a chain.
// SealedKey holds the encrypted private key and is never serialized.
type Deposit struct {
	Chain     Chain  `json:"chain"`
	Token     string `json:"-"`
	Address   string `json:"address"`
	SealedKey []byte `json:"-"`
}

// CoinQuote holds the amounts locked for a coin when the quote was issued
// and the high-water mark already converted into calls. UncreditedAmount
// is value from scanned transfers that has arrived but not yet been
// converted, e.g. the first part of a split payment.
type CoinQuote struct {
	Coin             Coin
	MinAmount        decimal.NullDecimal
	Tier1Amount      decimal.NullDecimal
	Tier2Amount      decimal.NullDecimal
	CreditedAmount   decimal.Decimal
	UncreditedAmount decimal.Decimal
}

// Priced is false when the coin had no price at quote time.
func (q *CoinQuote) Priced() bool {
	return q.MinAmount.Valid && q.Tier1Amount.Valid && q.Tier2Amount.Valid
}

// Relock replaces the quoted amounts and keeps the credited high-water mark.
func (q *CoinQuote) Relock(fresh CoinQuote) {
	q.MinAmount = fresh.MinAmount
	q.Tier1Amount = fresh.Tier1Amount
	q.Tier2Amount = fresh.Tier2Amount
}

// Payment is the one live quote/settlement record of a project.
type Payment struct {
	ProjectID      uuid.UUID
	Pending        bool
	QuoteStartTime *time.Time
	Deposits       map[Chain]*Deposit
	Quotes         map[Coin]*CoinQuote
	SeenTxHashes   []string
	UpdatedAt      time.Time
}

func NewPayment(projectID uuid.UUID) *Payment {
	return &Payment{
		ProjectID: projectID,
		Deposits:  make(map[Chain]*Deposit),
		Quotes:    make(map[Coin]*CoinQuote),
	}
}

// Quote returns the coin's quote row, creating an unpriced one if missing.
func (p *Payment) Quote(coin Coin) *CoinQuote {
	q, ok := p.Quotes[coin]
	if !ok {
		q = &CoinQuote{Coin: coin}
		p.Quotes[coin] = q
	}
	return q
}

// QuoteExpired reports whether the quote window has closed. A quote is
// valid strictly before start+validity.
func (p *Payment) QuoteExpired(now time.Time, validity time.Duration) bool {
	if p.QuoteStartTime == nil {
		return true
	}
	return !now.Before(p.QuoteStartTime.Add(validity))
}

func (p *Payment) QuoteExpiry(validity time.Duration) *time.Time {
	if p.QuoteStartTime == nil {
		return nil
	}
	exp := p.QuoteStartTime.Add(validity)
	return &exp
}

func (p *Payment) DepositAddress(ch Chain) string {
	if d, ok := p.Deposits[ch]; ok {
		return d.Address
	}
	return ""
}

func (p *Payment) HasSeen(txHash string) bool {
	for _, h := range p.SeenTxHashes {
		if strings.EqualFold(h, txHash) {
			return true
		}
	}
	return false
}

func (p *Payment) MarkSeen(txHash string) {
	if !p.HasSeen(txHash) {
		p.SeenTxHashes = append(p.SeenTxHashes, strings.ToLower(txHash))
	}
}

func (p *Payment) Clone() *Payment {
	cp := *p
	if p.QuoteStartTime != nil {
		t := *p.QuoteStartTime
		cp.QuoteStartTime = &t
	}
	cp.Deposits = make(map[Chain]*Deposit, len(p.Deposits))
	for k, d := range p.Deposits {
		dd := *d
		dd.SealedKey = append([]byte(nil), d.SealedKey...)
		cp.Deposits[k] = &dd
	}
	cp.Quotes = make(map[Coin]*CoinQuote, len(p.Quotes))
	for k, q := range p.Quotes {
		qq := *q
		cp.Quotes[k] = &qq
	}
	cp.SeenTxHashes = append([]string(nil), p.SeenTxHashes...)
	return &cp
}
