package broker

import (
	"context"
	"time"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/vault"
)

const dhanBaseURL = "https://api.dhan.co/v2"

// dhanAdapter speaks the DhanHQ v2 API. Dhan issues long-lived access tokens
// out of band, so Connect just validates the vaulted token against the funds
// endpoint.
type dhanAdapter struct {
	rest *restClient
}

// NewDhanFactory returns the factory for the Dhan adapter.
func NewDhanFactory() Factory {
	return func(opts Options) Adapter {
		return &dhanAdapter{rest: newRESTClient(opts.BaseURL, dhanBaseURL, opts.Timeout)}
	}
}

var _ Adapter = (*dhanAdapter)(nil)

func (d *dhanAdapter) Kind() domain.BrokerKind { return domain.BrokerDhan }

func (d *dhanAdapter) headers(sess Session) map[string]string {
	return map[string]string{"access-token": sess.Token}
}

func (d *dhanAdapter) Connect(ctx context.Context, creds vault.Secrets) (Session, error) {
	token := creds["access_token"]
	if token == "" {
		return Session{}, rejectedFault("dhan login needs a pre-issued access_token")
	}
	sess := Session{
		Token:     token,
		ExpiresAt: time.Now().Add(24 * time.Hour),
		Metadata:  map[string]string{"client_id": creds["client_code"]},
	}
	// Probe the token so a stale one fails at link time, not at order time.
	if _, err := d.Margin(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (d *dhanAdapter) Refresh(ctx context.Context, _ Session, creds vault.Secrets) (Session, error) {
	return d.Connect(ctx, creds)
}

func (d *dhanAdapter) Logout(context.Context, Session) error { return nil }

type dhanOrderResponse struct {
	OrderID     string `json:"orderId"`
	OrderStatus string `json:"orderStatus"`
}

func (d *dhanAdapter) Place(ctx context.Context, sess Session, intent PlaceIntent) (PlaceResult, error) {
	exchange := intent.Exchange
	if exchange == "" {
		exchange = "NSE_EQ"
	}
	body := map[string]any{
		"dhanClientId":    sess.Metadata["client_id"],
		"transactionType": string(intent.Side),
		"exchangeSegment": exchange,
		"productType":     "INTRADAY",
		"orderType":       string(intent.OrderType),
		"validity":        "DAY",
		"securityId":      intent.SymbolToken,
		"quantity":        intent.Quantity,
	}
	if intent.Price != nil {
		body["price"], _ = intent.Price.Float64()
	}
	if intent.OrderTag != "" {
		body["correlationId"] = intent.OrderTag
	}

	var resp dhanOrderResponse
	if err := d.rest.doJSON(ctx, "POST", "/orders", d.headers(sess), body, &resp); err != nil {
		return PlaceResult{}, err
	}
	status := domain.OrderAccepted
	if resp.OrderStatus == "REJECTED" {
		return PlaceResult{}, rejectedFault("dhan rejected order " + resp.OrderID)
	}
	return PlaceResult{BrokerOrderID: resp.OrderID, Status: status}, nil
}

func (d *dhanAdapter) Modify(ctx context.Context, sess Session, brokerOrderID string, patch OrderPatch) error {
	body := map[string]any{"dhanClientId": sess.Metadata["client_id"], "orderId": brokerOrderID}
	if patch.Price != nil {
		body["price"], _ = patch.Price.Float64()
	}
	if patch.Quantity != nil {
		body["quantity"] = *patch.Quantity
	}
	if patch.OrderType != nil {
		body["orderType"] = string(*patch.OrderType)
	}
	var resp dhanOrderResponse
	return d.rest.doJSON(ctx, "PUT", "/orders/"+brokerOrderID, d.headers(sess), body, &resp)
}

func (d *dhanAdapter) Cancel(ctx context.Context, sess Session, brokerOrderID string) error {
	var resp dhanOrderResponse
	return d.rest.doJSON(ctx, "DELETE", "/orders/"+brokerOrderID, d.headers(sess), nil, &resp)
}

func (d *dhanAdapter) Positions(ctx context.Context, sess Session) ([]domain.BrokerPosition, error) {
	var rows []map[string]any
	if err := d.rest.doJSON(ctx, "GET", "/positions", d.headers(sess), nil, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.BrokerPosition, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.BrokerPosition{
			Symbol:   str(row, "tradingSymbol"),
			Exchange: str(row, "exchangeSegment"),
			NetQty:   num(row, "netQty"),
			AvgPrice: dec(row, "buyAvg"),
			PnL:      dec(row, "realizedProfit"),
			Product:  str(row, "productType"),
		})
	}
	return out, nil
}

func (d *dhanAdapter) Holdings(ctx context.Context, sess Session) ([]domain.Holding, error) {
	var rows []map[string]any
	if err := d.rest.doJSON(ctx, "GET", "/holdings", d.headers(sess), nil, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Holding, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Holding{
			Symbol:    str(row, "tradingSymbol"),
			Quantity:  num(row, "totalQty"),
			AvgPrice:  dec(row, "avgCostPrice"),
			LastPrice: dec(row, "lastTradedPrice"),
		})
	}
	return out, nil
}

func (d *dhanAdapter) Margin(ctx context.Context, sess Session) (domain.MarginSnapshot, error) {
	var row map[string]any
	if err := d.rest.doJSON(ctx, "GET", "/fundlimit", d.headers(sess), nil, &row); err != nil {
		return domain.MarginSnapshot{}, err
	}
	return domain.MarginSnapshot{
		Available: dec(row, "availabelBalance"), // upstream misspells the field
		Utilized:  dec(row, "utilizedAmount"),
		Currency:  "INR",
	}, nil
}
