package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/vault"
)

const kiteBaseURL = "https://api.kite.trade"

// zerodhaAdapter speaks the Kite Connect v3 API. Kite has no server-side
// password login: the caller supplies a request_token obtained from the Kite
// login redirect, and Connect exchanges it for an access token using the
// checksum sha256(api_key + request_token + api_secret).
type zerodhaAdapter struct {
	rest            *restClient
	defaultExchange string
}

// NewZerodhaFactory returns the factory for the Zerodha Kite adapter.
func NewZerodhaFactory() Factory {
	return func(opts Options) Adapter {
		ex := opts.DefaultExchange
		if ex == "" {
			ex = "NSE"
		}
		return &zerodhaAdapter{
			rest:            newRESTClient(opts.BaseURL, kiteBaseURL, opts.Timeout),
			defaultExchange: ex,
		}
	}
}

var _ Adapter = (*zerodhaAdapter)(nil)

func (z *zerodhaAdapter) Kind() domain.BrokerKind { return domain.BrokerZerodha }

type kiteEnvelope struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func (z *zerodhaAdapter) headers(sess Session) map[string]string {
	h := map[string]string{"X-Kite-Version": "3"}
	if sess.Token != "" {
		h["Authorization"] = "token " + sess.Metadata["api_key"] + ":" + sess.Token
	}
	return h
}

// doForm posts application/x-www-form-urlencoded, which Kite requires for
// mutating calls.
func (z *zerodhaAdapter) doForm(ctx context.Context, method, path string, sess Session, form url.Values, out any) error {
	headers := z.headers(sess)
	headers["Content-Type"] = "application/x-www-form-urlencoded"
	return z.rest.doRaw(ctx, method, path, headers, strings.NewReader(form.Encode()), out)
}

func (z *zerodhaAdapter) Connect(ctx context.Context, creds vault.Secrets) (Session, error) {
	requestToken := creds["request_token"]
	if requestToken == "" {
		return Session{}, rejectedFault("zerodha login needs a request_token from the Kite redirect")
	}
	sum := sha256.Sum256([]byte(creds["api_key"] + requestToken + creds["api_secret"]))

	form := url.Values{}
	form.Set("api_key", creds["api_key"])
	form.Set("request_token", requestToken)
	form.Set("checksum", hex.EncodeToString(sum[:]))

	var env kiteEnvelope
	if err := z.doForm(ctx, "POST", "/session/token", Session{}, form, &env); err != nil {
		return Session{}, err
	}
	if env.Status != "success" {
		return Session{}, rejectedFault("zerodha login failed: " + env.Message)
	}
	token, _ := env.Data["access_token"].(string)
	if token == "" {
		return Session{}, rejectedFault("zerodha login returned no access token")
	}
	return Session{
		Token:     token,
		ExpiresAt: nextKiteExpiry(time.Now()),
		Metadata:  map[string]string{"api_key": creds["api_key"]},
	}, nil
}

// Refresh cannot mint a new Kite session without user interaction, so it
// reports the session as expired and lets the link surface that to the user.
func (z *zerodhaAdapter) Refresh(_ context.Context, _ Session, _ vault.Secrets) (Session, error) {
	return Session{}, sessionExpiredFault("zerodha sessions require an interactive re-login")
}

func (z *zerodhaAdapter) Logout(ctx context.Context, sess Session) error {
	form := url.Values{}
	form.Set("api_key", sess.Metadata["api_key"])
	form.Set("access_token", sess.Token)
	var env kiteEnvelope
	return z.doForm(ctx, "DELETE", "/session/token", sess, form, &env)
}

func (z *zerodhaAdapter) Place(ctx context.Context, sess Session, intent PlaceIntent) (PlaceResult, error) {
	exchange := intent.Exchange
	if exchange == "" {
		exchange = z.defaultExchange
	}
	form := url.Values{}
	form.Set("tradingsymbol", intent.Symbol)
	form.Set("exchange", exchange)
	form.Set("transaction_type", string(intent.Side))
	form.Set("order_type", string(intent.OrderType))
	form.Set("quantity", strconv.FormatInt(intent.Quantity, 10))
	form.Set("product", "MIS")
	form.Set("validity", "DAY")
	if intent.Price != nil {
		form.Set("price", intent.Price.String())
	}
	if intent.OrderTag != "" {
		form.Set("tag", intent.OrderTag)
	}

	var env kiteEnvelope
	if err := z.doForm(ctx, "POST", "/orders/regular", sess, form, &env); err != nil {
		return PlaceResult{}, err
	}
	if env.Status != "success" {
		return PlaceResult{}, rejectedFault("zerodha rejected order: " + env.Message)
	}
	orderID, _ := env.Data["order_id"].(string)
	return PlaceResult{BrokerOrderID: orderID, Status: domain.OrderAccepted, Message: env.Message}, nil
}

func (z *zerodhaAdapter) Modify(ctx context.Context, sess Session, brokerOrderID string, patch OrderPatch) error {
	form := url.Values{}
	if patch.Price != nil {
		form.Set("price", patch.Price.String())
	}
	if patch.Quantity != nil {
		form.Set("quantity", strconv.FormatInt(*patch.Quantity, 10))
	}
	if patch.OrderType != nil {
		form.Set("order_type", string(*patch.OrderType))
	}
	var env kiteEnvelope
	if err := z.doForm(ctx, "PUT", "/orders/regular/"+brokerOrderID, sess, form, &env); err != nil {
		return err
	}
	if env.Status != "success" {
		return rejectedFault("zerodha modify failed: " + env.Message)
	}
	return nil
}

func (z *zerodhaAdapter) Cancel(ctx context.Context, sess Session, brokerOrderID string) error {
	var env kiteEnvelope
	if err := z.doForm(ctx, "DELETE", "/orders/regular/"+brokerOrderID, sess, url.Values{}, &env); err != nil {
		return err
	}
	if env.Status != "success" {
		return rejectedFault("zerodha cancel failed: " + env.Message)
	}
	return nil
}

type kiteListEnvelope struct {
	Status string `json:"status"`
	Data   struct {
		Net []map[string]any `json:"net"`
	} `json:"data"`
}

func (z *zerodhaAdapter) Positions(ctx context.Context, sess Session) ([]domain.BrokerPosition, error) {
	var env kiteListEnvelope
	if err := z.rest.doJSON(ctx, "GET", "/portfolio/positions", z.headers(sess), nil, &env); err != nil {
		return nil, err
	}
	out := make([]domain.BrokerPosition, 0, len(env.Data.Net))
	for _, row := range env.Data.Net {
		out = append(out, domain.BrokerPosition{
			Symbol:   str(row, "tradingsymbol"),
			Exchange: str(row, "exchange"),
			NetQty:   num(row, "quantity"),
			AvgPrice: dec(row, "average_price"),
			PnL:      dec(row, "pnl"),
			Product:  str(row, "product"),
		})
	}
	return out, nil
}

type kiteHoldingsEnvelope struct {
	Status string           `json:"status"`
	Data   []map[string]any `json:"data"`
}

func (z *zerodhaAdapter) Holdings(ctx context.Context, sess Session) ([]domain.Holding, error) {
	var env kiteHoldingsEnvelope
	if err := z.rest.doJSON(ctx, "GET", "/portfolio/holdings", z.headers(sess), nil, &env); err != nil {
		return nil, err
	}
	out := make([]domain.Holding, 0, len(env.Data))
	for _, row := range env.Data {
		out = append(out, domain.Holding{
			Symbol:    str(row, "tradingsymbol"),
			Quantity:  num(row, "quantity"),
			AvgPrice:  dec(row, "average_price"),
			LastPrice: dec(row, "last_price"),
		})
	}
	return out, nil
}

func (z *zerodhaAdapter) Margin(ctx context.Context, sess Session) (domain.MarginSnapshot, error) {
	var env kiteEnvelope
	if err := z.rest.doJSON(ctx, "GET", "/user/margins/equity", z.headers(sess), nil, &env); err != nil {
		return domain.MarginSnapshot{}, err
	}
	snap := domain.MarginSnapshot{Currency: "INR"}
	if avail, ok := env.Data["available"].(map[string]any); ok {
		snap.Available = dec(avail, "live_balance")
	}
	if used, ok := env.Data["utilised"].(map[string]any); ok {
		snap.Utilized = dec(used, "debits")
	}
	return snap, nil
}

// nextKiteExpiry returns the coming 06:00 IST flush after which Kite access
// tokens are invalid.
func nextKiteExpiry(now time.Time) time.Time {
	ist := time.FixedZone("IST", 5*3600+1800)
	local := now.In(ist)
	expiry := time.Date(local.Year(), local.Month(), local.Day(), 6, 0, 0, 0, ist)
	if !local.Before(expiry) {
		expiry = expiry.Add(24 * time.Hour)
	}
	return expiry
}

// num reads a JSON number (or numeric string) as int64.
func num(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case string:
		return parseInt(v)
	}
	return 0
}

// dec reads a JSON number (or numeric string) as a decimal.
func dec(m map[string]any, key string) decimal.Decimal {
	switch v := m[key].(type) {
	case float64:
		return decimal.NewFromFloat(v)
	case string:
		return parseDecimal(v)
	}
	return decimal.Zero
}
