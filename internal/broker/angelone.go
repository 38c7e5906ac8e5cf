package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/vault"
)

const angelBaseURL = "https://apiconnect.angelbroking.com"

// angelAdapter speaks the Angel One SmartAPI. Login needs a fresh TOTP code
// minted from the vaulted seed on every Connect.
type angelAdapter struct {
	rest            *restClient
	defaultExchange string
}

// NewAngelOneFactory returns the factory for the Angel One adapter.
func NewAngelOneFactory() Factory {
	return func(opts Options) Adapter {
		ex := opts.DefaultExchange
		if ex == "" {
			ex = "NSE"
		}
		return &angelAdapter{
			rest:            newRESTClient(opts.BaseURL, angelBaseURL, opts.Timeout),
			defaultExchange: ex,
		}
	}
}

var _ Adapter = (*angelAdapter)(nil)

func (a *angelAdapter) Kind() domain.BrokerKind { return domain.BrokerAngelOne }

type angelEnvelope struct {
	Status  bool           `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

type angelListEnvelope struct {
	Status  bool             `json:"status"`
	Message string           `json:"message"`
	Data    []map[string]any `json:"data"`
}

func (a *angelAdapter) headers(sess Session, apiKey string) map[string]string {
	h := map[string]string{
		"X-UserType":     "USER",
		"X-SourceID":     "WEB",
		"X-PrivateKey":   apiKey,
		"X-ClientLocalIP": "127.0.0.1",
		"X-ClientPublicIP": "127.0.0.1",
		"X-MACAddress":   "00:00:00:00:00:00",
	}
	if sess.Token != "" {
		h["Authorization"] = "Bearer " + sess.Token
	}
	return h
}

func (a *angelAdapter) Connect(ctx context.Context, creds vault.Secrets) (Session, error) {
	code, err := vault.TOTPCode(creds, time.Now())
	if err != nil {
		return Session{}, fmt.Errorf("angel one: %w", err)
	}

	var env angelEnvelope
	err = a.rest.doJSON(ctx, "POST", "/rest/auth/angelbroking/user/v1/loginByPassword",
		a.headers(Session{}, creds["api_key"]),
		map[string]string{
			"clientcode": creds["client_code"],
			"password":   creds["password"],
			"totp":       code,
		}, &env)
	if err != nil {
		return Session{}, err
	}
	if !env.Status {
		return Session{}, rejectedFault("angel one login failed: " + env.Message)
	}

	jwt, _ := env.Data["jwtToken"].(string)
	refresh, _ := env.Data["refreshToken"].(string)
	if jwt == "" {
		return Session{}, rejectedFault("angel one login returned no token")
	}
	return Session{
		Token:     jwt,
		ExpiresAt: time.Now().Add(8 * time.Hour),
		Metadata:  map[string]string{"refresh_token": refresh, "api_key": creds["api_key"]},
	}, nil
}

func (a *angelAdapter) Refresh(ctx context.Context, sess Session, creds vault.Secrets) (Session, error) {
	refresh := sess.Metadata["refresh_token"]
	if refresh == "" {
		return a.Connect(ctx, creds)
	}
	var env angelEnvelope
	err := a.rest.doJSON(ctx, "POST", "/rest/auth/angelbroking/jwt/v1/generateTokens",
		a.headers(sess, creds["api_key"]),
		map[string]string{"refreshToken": refresh}, &env)
	if err != nil || !env.Status {
		// Refresh tokens go stale alongside the session. Fall back to a full login.
		return a.Connect(ctx, creds)
	}
	jwt, _ := env.Data["jwtToken"].(string)
	newRefresh, _ := env.Data["refreshToken"].(string)
	return Session{
		Token:     jwt,
		ExpiresAt: time.Now().Add(8 * time.Hour),
		Metadata:  map[string]string{"refresh_token": newRefresh, "api_key": creds["api_key"]},
	}, nil
}

func (a *angelAdapter) Logout(ctx context.Context, sess Session) error {
	var env angelEnvelope
	return a.rest.doJSON(ctx, "POST", "/rest/secure/angelbroking/user/v1/logout",
		a.headers(sess, sess.Metadata["api_key"]), map[string]string{}, &env)
}

func (a *angelAdapter) Place(ctx context.Context, sess Session, intent PlaceIntent) (PlaceResult, error) {
	exchange := intent.Exchange
	if exchange == "" {
		exchange = a.defaultExchange
	}
	body := map[string]string{
		"variety":         "NORMAL",
		"tradingsymbol":   intent.Symbol,
		"symboltoken":     intent.SymbolToken,
		"transactiontype": string(intent.Side),
		"exchange":        exchange,
		"ordertype":       string(intent.OrderType),
		"producttype":     "INTRADAY",
		"duration":        "DAY",
		"quantity":        strconv.FormatInt(intent.Quantity, 10),
	}
	if intent.Price != nil {
		body["price"] = intent.Price.String()
	}
	if intent.StopLoss != nil {
		body["triggerprice"] = intent.StopLoss.String()
	}
	if intent.OrderTag != "" {
		body["ordertag"] = intent.OrderTag
	}

	var env angelEnvelope
	if err := a.rest.doJSON(ctx, "POST", "/rest/secure/angelbroking/order/v1/placeOrder",
		a.headers(sess, sess.Metadata["api_key"]), body, &env); err != nil {
		return PlaceResult{}, err
	}
	if !env.Status {
		return PlaceResult{}, rejectedFault("angel one rejected order: " + env.Message)
	}
	orderID, _ := env.Data["orderid"].(string)
	return PlaceResult{
		BrokerOrderID: orderID,
		Status:        domain.OrderAccepted,
		Message:       env.Message,
	}, nil
}

func (a *angelAdapter) Modify(ctx context.Context, sess Session, brokerOrderID string, patch OrderPatch) error {
	body := map[string]string{"variety": "NORMAL", "orderid": brokerOrderID}
	if patch.Price != nil {
		body["price"] = patch.Price.String()
	}
	if patch.Quantity != nil {
		body["quantity"] = strconv.FormatInt(*patch.Quantity, 10)
	}
	if patch.OrderType != nil {
		body["ordertype"] = string(*patch.OrderType)
	}
	var env angelEnvelope
	if err := a.rest.doJSON(ctx, "POST", "/rest/secure/angelbroking/order/v1/modifyOrder",
		a.headers(sess, sess.Metadata["api_key"]), body, &env); err != nil {
		return err
	}
	if !env.Status {
		return rejectedFault("angel one modify failed: " + env.Message)
	}
	return nil
}

func (a *angelAdapter) Cancel(ctx context.Context, sess Session, brokerOrderID string) error {
	var env angelEnvelope
	err := a.rest.doJSON(ctx, "POST", "/rest/secure/angelbroking/order/v1/cancelOrder",
		a.headers(sess, sess.Metadata["api_key"]),
		map[string]string{"variety": "NORMAL", "orderid": brokerOrderID}, &env)
	if err != nil {
		return err
	}
	if !env.Status {
		return rejectedFault("angel one cancel failed: " + env.Message)
	}
	return nil
}

func (a *angelAdapter) Positions(ctx context.Context, sess Session) ([]domain.BrokerPosition, error) {
	var env angelListEnvelope
	err := a.rest.doJSON(ctx, "GET", "/rest/secure/angelbroking/order/v1/getPosition",
		a.headers(sess, sess.Metadata["api_key"]), nil, &env)
	if err != nil {
		return nil, err
	}
	out := make([]domain.BrokerPosition, 0, len(env.Data))
	for _, row := range env.Data {
		out = append(out, domain.BrokerPosition{
			Symbol:   str(row, "tradingsymbol"),
			Exchange: str(row, "exchange"),
			NetQty:   parseInt(str(row, "netqty")),
			AvgPrice: parseDecimal(str(row, "avgnetprice")),
			PnL:      parseDecimal(str(row, "pnl")),
			Product:  str(row, "producttype"),
		})
	}
	return out, nil
}

func (a *angelAdapter) Holdings(ctx context.Context, sess Session) ([]domain.Holding, error) {
	var env angelListEnvelope
	err := a.rest.doJSON(ctx, "GET", "/rest/secure/angelbroking/portfolio/v1/getHolding",
		a.headers(sess, sess.Metadata["api_key"]), nil, &env)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Holding, 0, len(env.Data))
	for _, row := range env.Data {
		out = append(out, domain.Holding{
			Symbol:    str(row, "tradingsymbol"),
			Quantity:  parseInt(str(row, "quantity")),
			AvgPrice:  parseDecimal(str(row, "averageprice")),
			LastPrice: parseDecimal(str(row, "ltp")),
		})
	}
	return out, nil
}

func (a *angelAdapter) Margin(ctx context.Context, sess Session) (domain.MarginSnapshot, error) {
	var env angelEnvelope
	err := a.rest.doJSON(ctx, "GET", "/rest/secure/angelbroking/user/v1/getRMS",
		a.headers(sess, sess.Metadata["api_key"]), nil, &env)
	if err != nil {
		return domain.MarginSnapshot{}, err
	}
	return domain.MarginSnapshot{
		Available: parseDecimal(str(env.Data, "availablecash")),
		Utilized:  parseDecimal(str(env.Data, "utiliseddebits")),
		Currency:  "INR",
	}, nil
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
