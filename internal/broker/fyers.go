package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/vault"
)

const fyersBaseURL = "https://api-t1.fyers.in/api/v3"

// fyersAdapter speaks the Fyers API v3. Connect exchanges the auth_code from
// the Fyers redirect for an access token using sha256(app_id:app_secret).
type fyersAdapter struct {
	rest *restClient
}

// NewFyersFactory returns the factory for the Fyers adapter.
func NewFyersFactory() Factory {
	return func(opts Options) Adapter {
		return &fyersAdapter{rest: newRESTClient(opts.BaseURL, fyersBaseURL, opts.Timeout)}
	}
}

var _ Adapter = (*fyersAdapter)(nil)

func (f *fyersAdapter) Kind() domain.BrokerKind { return domain.BrokerFyers }

type fyersEnvelope struct {
	S       string         `json:"s"`
	Message string         `json:"message"`
	ID      string         `json:"id"`
	Token   string         `json:"access_token"`
	Data    map[string]any `json:"data"`
}

func (f *fyersAdapter) headers(sess Session) map[string]string {
	return map[string]string{"Authorization": sess.Metadata["app_id"] + ":" + sess.Token}
}

func (f *fyersAdapter) Connect(ctx context.Context, creds vault.Secrets) (Session, error) {
	authCode := creds["auth_code"]
	if authCode == "" {
		return Session{}, rejectedFault("fyers login needs an auth_code from the Fyers redirect")
	}
	sum := sha256.Sum256([]byte(creds["api_key"] + ":" + creds["api_secret"]))

	var env fyersEnvelope
	err := f.rest.doJSON(ctx, "POST", "/validate-authcode", nil, map[string]string{
		"grant_type": "authorization_code",
		"appIdHash":  hex.EncodeToString(sum[:]),
		"code":       authCode,
	}, &env)
	if err != nil {
		return Session{}, err
	}
	if env.S != "ok" || env.Token == "" {
		return Session{}, rejectedFault("fyers login failed: " + env.Message)
	}
	return Session{
		Token:     env.Token,
		ExpiresAt: endOfTradingDay(time.Now()),
		Metadata:  map[string]string{"app_id": creds["api_key"]},
	}, nil
}

func (f *fyersAdapter) Refresh(_ context.Context, _ Session, _ vault.Secrets) (Session, error) {
	return Session{}, sessionExpiredFault("fyers sessions require an interactive re-login")
}

func (f *fyersAdapter) Logout(ctx context.Context, sess Session) error {
	var env fyersEnvelope
	return f.rest.doJSON(ctx, "DELETE", "/token", f.headers(sess), nil, &env)
}

func (f *fyersAdapter) Place(ctx context.Context, sess Session, intent PlaceIntent) (PlaceResult, error) {
	side := 1
	if intent.Side == domain.SideSell {
		side = -1
	}
	orderType := 2 // market
	if intent.OrderType == domain.OrderLimit {
		orderType = 1
	}
	body := map[string]any{
		"symbol":      intent.Symbol,
		"qty":         intent.Quantity,
		"type":        orderType,
		"side":        side,
		"productType": "INTRADAY",
		"validity":    "DAY",
	}
	if intent.Price != nil {
		body["limitPrice"], _ = intent.Price.Float64()
	}
	if intent.StopLoss != nil {
		body["stopLoss"], _ = intent.StopLoss.Float64()
	}
	if intent.TakeProfit != nil {
		body["takeProfit"], _ = intent.TakeProfit.Float64()
	}
	if intent.OrderTag != "" {
		body["orderTag"] = intent.OrderTag
	}

	var env fyersEnvelope
	if err := f.rest.doJSON(ctx, "POST", "/orders/sync", f.headers(sess), body, &env); err != nil {
		return PlaceResult{}, err
	}
	if env.S != "ok" {
		return PlaceResult{}, rejectedFault("fyers rejected order: " + env.Message)
	}
	return PlaceResult{BrokerOrderID: env.ID, Status: domain.OrderAccepted, Message: env.Message}, nil
}

func (f *fyersAdapter) Modify(ctx context.Context, sess Session, brokerOrderID string, patch OrderPatch) error {
	body := map[string]any{"id": brokerOrderID}
	if patch.Price != nil {
		body["limitPrice"], _ = patch.Price.Float64()
	}
	if patch.Quantity != nil {
		body["qty"] = *patch.Quantity
	}
	var env fyersEnvelope
	if err := f.rest.doJSON(ctx, "PATCH", "/orders/sync", f.headers(sess), body, &env); err != nil {
		return err
	}
	if env.S != "ok" {
		return rejectedFault("fyers modify failed: " + env.Message)
	}
	return nil
}

func (f *fyersAdapter) Cancel(ctx context.Context, sess Session, brokerOrderID string) error {
	var env fyersEnvelope
	err := f.rest.doJSON(ctx, "DELETE", "/orders/sync", f.headers(sess),
		map[string]string{"id": brokerOrderID}, &env)
	if err != nil {
		return err
	}
	if env.S != "ok" {
		return rejectedFault("fyers cancel failed: " + env.Message)
	}
	return nil
}

type fyersListEnvelope struct {
	S            string           `json:"s"`
	NetPositions []map[string]any `json:"netPositions"`
	Holdings     []map[string]any `json:"holdings"`
	FundLimit    []map[string]any `json:"fund_limit"`
}

func (f *fyersAdapter) Positions(ctx context.Context, sess Session) ([]domain.BrokerPosition, error) {
	var env fyersListEnvelope
	if err := f.rest.doJSON(ctx, "GET", "/positions", f.headers(sess), nil, &env); err != nil {
		return nil, err
	}
	out := make([]domain.BrokerPosition, 0, len(env.NetPositions))
	for _, row := range env.NetPositions {
		out = append(out, domain.BrokerPosition{
			Symbol:   str(row, "symbol"),
			NetQty:   num(row, "netQty"),
			AvgPrice: dec(row, "netAvg"),
			PnL:      dec(row, "pl"),
			Product:  str(row, "productType"),
		})
	}
	return out, nil
}

func (f *fyersAdapter) Holdings(ctx context.Context, sess Session) ([]domain.Holding, error) {
	var env fyersListEnvelope
	if err := f.rest.doJSON(ctx, "GET", "/holdings", f.headers(sess), nil, &env); err != nil {
		return nil, err
	}
	out := make([]domain.Holding, 0, len(env.Holdings))
	for _, row := range env.Holdings {
		out = append(out, domain.Holding{
			Symbol:    str(row, "symbol"),
			Quantity:  num(row, "quantity"),
			AvgPrice:  dec(row, "costPrice"),
			LastPrice: dec(row, "ltp"),
		})
	}
	return out, nil
}

func (f *fyersAdapter) Margin(ctx context.Context, sess Session) (domain.MarginSnapshot, error) {
	var env fyersListEnvelope
	if err := f.rest.doJSON(ctx, "GET", "/funds", f.headers(sess), nil, &env); err != nil {
		return domain.MarginSnapshot{}, err
	}
	snap := domain.MarginSnapshot{Currency: "INR"}
	for _, row := range env.FundLimit {
		switch str(row, "title") {
		case "Available Balance":
			snap.Available = dec(row, "equityAmount")
		case "Utilized Amount":
			snap.Utilized = dec(row, "equityAmount")
		}
	}
	return snap, nil
}

// endOfTradingDay returns midnight IST, when Fyers tokens stop working.
func endOfTradingDay(now time.Time) time.Time {
	ist := time.FixedZone("IST", 5*3600+1800)
	local := now.In(ist)
	return time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 59, 0, ist)
}
