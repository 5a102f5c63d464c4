package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"quorum/internal/logger"
	"quorum/internal/pkg/text"
)

const (
	pathOrderCreate   = "/v5/order/create"
	pathWalletBalance = "/v5/account/wallet-balance"
	pathPositionList  = "/v5/position/list"
)

type Config struct {
	BaseURL         string
	APIKey          string
	APISecret       string
	Category        string
	SettleCoin      string
	RecvWindow      time.Duration
	Timeout         time.Duration
	RateLimitPerSec float64
	RateLimitBurst  int
	DryRun          bool
}

// Client 是带签名与限流的下单客户端，不做内部重试。
type Client struct {
	cfg     Config
	http    *resty.Client
	limiter *rate.Limiter
	now     func() time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.Category == "" {
		cfg.Category = "linear"
	}
	if cfg.SettleCoin == "" {
		cfg.SettleCoin = "USDT"
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimitPerSec > 0 {
		limit = rate.Limit(cfg.RateLimitPerSec)
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

// CreateOrder 先计算幂等键再发起请求；键作为 orderLinkId 发送。
// 交易所拒单（HTTP>=400 或 retCode!=0）返回 OK=false 且 error 为 nil；
// 网络失败或响应无法解析返回 *TransportError。
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	key := GenerateIdempotencyKey(req)
	result := OrderResult{IdempotencyKey: key}

	if c.cfg.DryRun {
		logger.Infof("[dry-run] %s %s %s qty=%s key=%s", req.Symbol, req.normalizedSide(), req.normalizedType(),
			decimal.NewFromFloat(req.Qty).String(), key)
		result.OK = true
		result.OrderID = "dry-" + key
		result.OrderLinkID = key
		return result, nil
	}

	body, err := c.orderBody(req, key)
	if err != nil {
		return result, &TransportError{IdempotencyKey: key, Err: err}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return result, &TransportError{IdempotencyKey: key, Err: err}
	}
	resp, err := c.signed(ctx, body).SetBody(body).Post(pathOrderCreate)
	if err != nil {
		return result, &TransportError{IdempotencyKey: key, Err: err}
	}
	raw := resp.Body()
	status := resp.StatusCode()
	if !gjson.ValidBytes(raw) {
		if status >= 400 {
			result.ErrorCode = "HTTP_" + strconv.Itoa(status)
			result.ErrorMessage = text.Truncate(strings.TrimSpace(string(raw)), 256)
			if result.ErrorMessage == "" {
				result.ErrorMessage = resp.Status()
			}
			return result, nil
		}
		return result, &TransportError{IdempotencyKey: key, Err: fmt.Errorf("malformed response: %s", text.Truncate(string(raw), 128))}
	}
	parsed := gjson.ParseBytes(raw)
	retCode := parsed.Get("retCode")
	if status >= 400 {
		result.ErrorCode = "HTTP_" + strconv.Itoa(status)
		if retCode.Exists() && retCode.Int() != 0 {
			result.ErrorCode = retCode.String()
		}
		result.ErrorMessage = firstNonEmpty(parsed.Get("retMsg").String(), resp.Status())
		return result, nil
	}
	if !retCode.Exists() {
		return result, &TransportError{IdempotencyKey: key, Err: fmt.Errorf("response missing retCode")}
	}
	if retCode.Int() != 0 {
		result.ErrorCode = retCode.String()
		result.ErrorMessage = parsed.Get("retMsg").String()
		return result, nil
	}
	result.OK = true
	result.OrderID = parsed.Get("result.orderId").String()
	result.OrderLinkID = firstNonEmpty(parsed.Get("result.orderLinkId").String(), key)
	return result, nil
}

// WalletState 读取统一账户权益、可用保证金与初始保证金占用率。
func (c *Client) WalletState(ctx context.Context) (Wallet, error) {
	parsed, err := c.get(ctx, pathWalletBalance, url.Values{"accountType": {"UNIFIED"}})
	if err != nil {
		return Wallet{}, err
	}
	acct := parsed.Get("result.list.0")
	if !acct.Exists() {
		return Wallet{}, fmt.Errorf("wallet-balance: empty account list")
	}
	w := Wallet{
		Equity:         parseNum(acct.Get("totalEquity")),
		FreeCollateral: parseNum(acct.Get("totalAvailableBalance")),
		InitialMargin:  parseNum(acct.Get("totalInitialMargin")),
		UpdatedAt:      c.now(),
	}
	if w.Equity > 0 {
		w.MarginUtilization = w.InitialMargin / w.Equity
	} else if w.InitialMargin > 0 {
		w.MarginUtilization = 1
	}
	return w, nil
}

// Position 返回 symbol 的持仓，无持仓时返回 nil。
func (c *Client) Position(ctx context.Context, symbol string) (*Position, error) {
	q := url.Values{
		"category": {c.cfg.Category},
		"symbol":   {strings.ToUpper(strings.TrimSpace(symbol))},
	}
	parsed, err := c.get(ctx, pathPositionList, q)
	if err != nil {
		return nil, err
	}
	var out *Position
	parsed.Get("result.list").ForEach(func(_, item gjson.Result) bool {
		size := parseNum(item.Get("size"))
		if size <= 0 {
			return true
		}
		side := SideBuy
		if strings.EqualFold(item.Get("side").String(), "Sell") {
			side = SideSell
		}
		out = &Position{
			Symbol:     item.Get("symbol").String(),
			Side:       side,
			Size:       size,
			EntryPrice: parseNum(item.Get("avgPrice")),
			MarkPrice:  parseNum(item.Get("markPrice")),
			Leverage:   parseNum(item.Get("leverage")),
			StopLoss:   parseNum(item.Get("stopLoss")),
			TakeProfit: parseNum(item.Get("takeProfit")),
		}
		return false
	})
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	if c.cfg.DryRun && c.cfg.APIKey == "" {
		return gjson.Result{}, fmt.Errorf("%s unavailable in dry_run without credentials", path)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, err
	}
	encoded := query.Encode()
	resp, err := c.signed(ctx, encoded).SetQueryString(encoded).Get(path)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: %w", path, err)
	}
	if !gjson.ValidBytes(resp.Body()) {
		return gjson.Result{}, fmt.Errorf("%s: malformed response (status %d)", path, resp.StatusCode())
	}
	parsed := gjson.ParseBytes(resp.Body())
	if code := parsed.Get("retCode").Int(); code != 0 || resp.StatusCode() >= 400 {
		return gjson.Result{}, fmt.Errorf("%s: retCode=%d retMsg=%s status=%d", path, code, parsed.Get("retMsg").String(), resp.StatusCode())
	}
	return parsed, nil
}

// signed 生成带 X-BAPI-* 头的请求：sign = HMAC_SHA256(timestamp + apiKey + recvWindow + payload)。
func (c *Client) signed(ctx context.Context, payload string) *resty.Request {
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	recv := strconv.FormatInt(c.cfg.RecvWindow.Milliseconds(), 10)
	return c.http.R().
		SetContext(ctx).
		SetHeader("X-BAPI-API-KEY", c.cfg.APIKey).
		SetHeader("X-BAPI-TIMESTAMP", ts).
		SetHeader("X-BAPI-RECV-WINDOW", recv).
		SetHeader("X-BAPI-SIGN", Sign(c.cfg.APISecret, ts+c.cfg.APIKey+recv+payload))
}

// Sign 返回十六进制 HMAC-SHA256。
func Sign(secret, message string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Client) orderBody(req OrderRequest, key string) (string, error) {
	body := make(map[string]any, len(req.Options)+8)
	// options 先写入，核心字段后写，避免被 options 覆盖
	for k, v := range req.Options {
		body[k] = optionValue(v)
	}
	body["category"] = c.cfg.Category
	body["symbol"] = strings.ToUpper(strings.TrimSpace(req.Symbol))
	body["side"] = titleCase(req.normalizedSide())
	body["orderType"] = titleCase(req.normalizedType())
	body["qty"] = decimal.NewFromFloat(req.Qty).String()
	if req.Price != nil {
		body["price"] = decimal.NewFromFloat(*req.Price).String()
	}
	body["orderLinkId"] = key
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode order body: %w", err)
	}
	return string(raw), nil
}

// 交易所要求价格类参数为字符串
func optionValue(v any) any {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t).String()
	case float32:
		return decimal.NewFromFloat32(t).String()
	default:
		return v
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

func parseNum(v gjson.Result) float64 {
	if v.Type == gjson.String {
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return v.Float()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
