package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BrokerKind identifies a broker adapter implementation.
type BrokerKind string

const (
	BrokerPaper    BrokerKind = "paper_trading"
	BrokerAngelOne BrokerKind = "angel_one"
	BrokerZerodha  BrokerKind = "zerodha"
	BrokerFyers    BrokerKind = "fyers"
	BrokerDhan     BrokerKind = "dhan"
)

// LinkStatus tracks the session health of a broker link.
type LinkStatus string

const (
	LinkConnected    LinkStatus = "connected"
	LinkExpired      LinkStatus = "expired"
	LinkError        LinkStatus = "error"
	LinkDisconnected LinkStatus = "disconnected"
)

// BrokerLink is a user's connection to one broker account set. The
// credentials themselves never appear here: only the vault ciphertext
// reference. Session tokens are held in SessionToken with an expiry.
type BrokerLink struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Kind             BrokerKind `json:"broker"`
	ClientCode       string     `json:"client_code,omitempty"`
	Status           LinkStatus `json:"status"`
	SessionToken     string     `json:"-"`
	SessionExpiresAt *time.Time `json:"session_expires_at,omitempty"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// SessionValid reports whether the link carries a token that has not expired.
func (l BrokerLink) SessionValid(now time.Time) bool {
	if l.SessionToken == "" {
		return false
	}
	if l.SessionExpiresAt != nil && !now.Before(*l.SessionExpiresAt) {
		return false
	}
	return true
}

// Account is a tradable account under a broker link. Deleting the link
// cascades to its accounts.
type Account struct {
	ID              string          `json:"id"`
	BrokerLinkID    string          `json:"broker_link_id"`
	BrokerAccountID string          `json:"broker_account_id"`
	Currency        string          `json:"currency"`
	MarginAvailable decimal.Decimal `json:"margin_available"`
	MarginUtilized  decimal.Decimal `json:"margin_utilized"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// MarginSnapshot is the normalized margin report from an adapter.
type MarginSnapshot struct {
	Available decimal.Decimal `json:"available"`
	Utilized  decimal.Decimal `json:"utilized"`
	Currency  string          `json:"currency"`
}

// BrokerPosition is a broker-side open position as reported by an adapter.
type BrokerPosition struct {
	Symbol   string          `json:"symbol"`
	Exchange string          `json:"exchange,omitempty"`
	NetQty   int64           `json:"net_qty"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	PnL      decimal.Decimal `json:"pnl"`
	Product  string          `json:"product,omitempty"`
}

// Holding is a broker-side delivery holding.
type Holding struct {
	Symbol    string          `json:"symbol"`
	Quantity  int64           `json:"quantity"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
	LastPrice decimal.Decimal `json:"last_price"`
}
