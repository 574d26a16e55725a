package bitget

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"signalflow/conf"
	"signalflow/pkg/logger"

	"github.com/bwmarrin/snowflake"
)

const (
	defaultBaseURL = "https://api.bitget.com"

	// USDT本位永续；S前缀为模拟盘
	productType     = "UMCBL"
	marginCoin      = "USDT"
	demoProductType = "SUMCBL"
	demoMarginCoin  = "SUSDT"
	marginMode      = "crossed"

	codeOK = "00000"

	maxRetries = 3
	retryDelay = 1 * time.Second

	// 同一秒内的请求上限，超出后睡到下一秒
	rateLimitPerSecond = 10
)

// APIError 交易所返回的业务错误（code != 00000），不做重试
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bitget api error: code=%s msg=%s", e.Code, e.Message)
}

// Client Bitget合约REST客户端，负责签名、限速与重试
type Client struct {
	apiKey     string
	secretKey  string
	passphrase string
	baseURL    string

	httpClient *http.Client
	idNode     *snowflake.Node

	// 模拟盘与实盘走同一套接口，只是产品类型和保证金币种不同
	productType string
	marginCoin  string

	mu           sync.Mutex
	windowStart  int64 // 当前计数窗口（秒）
	requestCount int

	trading conf.TradingConfig
}

func NewClient(cfg conf.BitgetConfig, trading conf.TradingConfig) (*Client, error) {
	if cfg.ApiKey == "" || cfg.SecretKey == "" || cfg.Passphrase == "" {
		return nil, fmt.Errorf("bitget api凭证不完整")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}
	c := &Client{
		apiKey:      cfg.ApiKey,
		secretKey:   cfg.SecretKey,
		passphrase:  cfg.Passphrase,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		idNode:      node,
		productType: productType,
		marginCoin:  marginCoin,
		trading:     trading,
	}
	if cfg.Sandbox {
		c.productType = demoProductType
		c.marginCoin = demoMarginCoin
		logger.Warn("bitget模拟盘模式已开启")
	}
	return c, nil
}

// contractSymbol 按当前产品类型补全合约交易对后缀
func (c *Client) contractSymbol(symbol string) string {
	if strings.HasSuffix(symbol, "_"+c.productType) {
		return symbol
	}
	return symbol + "_" + c.productType
}

// newClientOrderID 生成交易所要求唯一的客户端订单号
func (c *Client) newClientOrderID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, c.idNode.Generate().String())
}

// sign 计算请求签名：base64(hmac_sha256(secret, timestamp + METHOD + path[?query] + body))
func (c *Client) sign(timestamp, method, requestPath, body string) string {
	message := timestamp + strings.ToUpper(method) + requestPath + body
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// query参数按key字典序拼接，签名与实际请求必须一致
func sortedQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, "&")
}

// rateLimit 同一秒超过上限时睡掉该秒剩余时间
func (c *Client) rateLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	sec := now.Unix()
	if sec != c.windowStart {
		c.windowStart = sec
		c.requestCount = 0
	}
	if c.requestCount >= rateLimitPerSecond {
		sleep := time.Duration(float64(time.Second) * (1 - float64(now.Nanosecond())/1e9))
		time.Sleep(sleep)
		c.windowStart = time.Now().Unix()
		c.requestCount = 0
	}
	c.requestCount++
}

type apiResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// doRequest 发送一次签名请求；网络错误、限流与5xx按线性退避重试，业务错误立即返回
func (c *Client) doRequest(ctx context.Context, method, endpoint string, params map[string]string, payload interface{}) (json.RawMessage, error) {
	var body string
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = string(buf)
	}

	requestPath := endpoint
	if qs := sortedQuery(params); qs != "" {
		requestPath = endpoint + "?" + qs
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			// 线性退避
			select {
			case <-time.After(retryDelay * time.Duration(attempt+1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		c.rateLimit()

		data, err := c.doOnce(ctx, method, requestPath, body)
		if err == nil {
			return data, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			// 业务错误不重试
			return nil, err
		}
		lastErr = err
		logger.Warn("bitget请求失败，准备重试",
			logger.Pair("endpoint", endpoint),
			logger.Pair("attempt", attempt+1),
			logger.Pair("error", err.Error()))
	}
	return nil, fmt.Errorf("bitget请求重试%d次后仍失败: %w", maxRetries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, requestPath, body string) (json.RawMessage, error) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("ACCESS-KEY", c.apiKey)
	req.Header.Set("ACCESS-SIGN", c.sign(timestamp, method, requestPath, body))
	req.Header.Set("ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("ACCESS-PASSPHRASE", c.passphrase)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	// 限流与服务端错误都是临时状况，交给上层重试
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("bitget临时错误: status=%d body=%s", resp.StatusCode, truncate(raw, 200))
	}

	var result apiResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w body=%s", err, truncate(raw, 200))
	}
	if result.Code != codeOK {
		return nil, &APIError{Code: result.Code, Message: result.Msg}
	}
	return result.Data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// get 发送GET请求并把data解到out
func (c *Client) get(ctx context.Context, endpoint string, params map[string]string, out interface{}) error {
	data, err := c.doRequest(ctx, http.MethodGet, endpoint, params, nil)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// post 发送POST请求并把data解到out
func (c *Client) post(ctx context.Context, endpoint string, payload interface{}, out interface{}) error {
	data, err := c.doRequest(ctx, http.MethodPost, endpoint, nil, payload)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
