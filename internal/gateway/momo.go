// Package gateway is the outbound client for the wallet payment provider.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/baharkarakas/payflow/internal/apperror"
	"github.com/baharkarakas/payflow/internal/metrics"
	"github.com/baharkarakas/payflow/internal/signature"
	"github.com/google/uuid"
)

const (
	ProviderMoMo = "momo"

	DefaultRequestType = "captureWallet"
	DefaultLang        = "vi"
)

type Config struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string // base URL; /create and /refund are appended
	RedirectURL string
	NotifyURL   string
	RequestType string
	Lang        string
	Algorithm   signature.Algorithm
	Timeout     time.Duration
}

// Intent is what the reconciler asks the provider to collect.
type Intent struct {
	Amount         int64
	OrderReference string
	OrderInfo      string
	ExtraData      string
}

type InitiateResult struct {
	CorrelationID string
	RedirectURL   string
	DeepLink      string
	QRPayload     string
	Raw           map[string]any
}

type RefundIntent struct {
	ProviderTransactionID string
	Amount                int64
	Description           string
}

type RefundResult struct {
	RefundID              string
	ProviderTransactionID string
	Raw                   map[string]any
}

// Client talks to the provider. It never retries; the caller decides what a
// failure means.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Client {
	if cfg.RequestType == "" {
		cfg.RequestType = DefaultRequestType
	}
	if cfg.Lang == "" {
		cfg.Lang = DefaultLang
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = signature.SHA256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
}

func (c *Client) Provider() string { return ProviderMoMo }

// Algorithm is the digest used for both directions.
func (c *Client) Algorithm() signature.Algorithm { return c.cfg.Algorithm }

// VerifyCallback checks an inbound payload against the shared secret.
func (c *Client) VerifyCallback(fields map[string]string) bool {
	return signature.Verify(c.cfg.Algorithm, fields, c.cfg.SecretKey)
}

// response is the decoded provider reply. Values keep their JSON text:
// numbers are not reformatted and strings are unquoted.
type response map[string]any

func (r response) get(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	}
	return fmt.Sprint(r[key])
}

// Initiate creates a payment. The correlation id is generated here and used
// as both orderId and requestId; it is returned even when the call fails so
// the caller can record the attempt.
func (c *Client) Initiate(ctx context.Context, in Intent) (InitiateResult, error) {
	correlationID := uuid.NewString()
	res := InitiateResult{CorrelationID: correlationID}

	orderInfo := in.OrderInfo
	if orderInfo == "" {
		orderInfo = "Payment for order " + correlationID
	}
	fields := map[string]string{
		"accessKey":   c.cfg.AccessKey,
		"amount":      strconv.FormatInt(in.Amount, 10),
		"extraData":   in.ExtraData,
		"ipnUrl":      c.cfg.NotifyURL,
		"orderId":     correlationID,
		"orderInfo":   orderInfo,
		"partnerCode": c.cfg.PartnerCode,
		"redirectUrl": c.cfg.RedirectURL,
		"requestId":   correlationID,
		"requestType": c.cfg.RequestType,
	}
	body := signature.SignFields(c.cfg.Algorithm, fields, c.cfg.SecretKey)
	body["lang"] = c.cfg.Lang

	resp, err := c.post(ctx, "initiate", "/create", body)
	if err != nil {
		return res, err
	}
	res.Raw = resp
	if code := resp.get("resultCode"); code != "0" {
		return res, apperror.Rejected(code, resp.get("message"), res.Raw)
	}
	res.RedirectURL = resp.get("payUrl")
	res.DeepLink = resp.get("deeplink")
	res.QRPayload = resp.get("qrCodeUrl")
	return res, nil
}

// Refund asks the provider to return a completed payment in full or in part.
func (c *Client) Refund(ctx context.Context, in RefundIntent) (RefundResult, error) {
	refundID := uuid.NewString()
	out := RefundResult{RefundID: refundID}

	fields := map[string]string{
		"accessKey":   c.cfg.AccessKey,
		"amount":      strconv.FormatInt(in.Amount, 10),
		"description": in.Description,
		"orderId":     refundID,
		"partnerCode": c.cfg.PartnerCode,
		"requestId":   refundID,
		"transId":     in.ProviderTransactionID,
	}
	body := signature.SignFields(c.cfg.Algorithm, fields, c.cfg.SecretKey)
	body["lang"] = c.cfg.Lang

	resp, err := c.post(ctx, "refund", "/refund", body)
	if err != nil {
		return out, err
	}
	out.Raw = resp
	if code := resp.get("resultCode"); code != "0" {
		return out, apperror.Rejected(code, resp.get("message"), out.Raw)
	}
	out.ProviderTransactionID = resp.get("transId")
	return out, nil
}

func (c *Client) post(ctx context.Context, op, path string, body map[string]string) (response, error) {
	var out response

	buf, err := json.Marshal(body)
	if err != nil {
		return out, apperror.Wrap(apperror.Internal, "encode gateway request", err)
	}
	url := strings.TrimRight(c.cfg.Endpoint, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return out, apperror.Wrap(apperror.Internal, "build gateway request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.GatewayDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		c.log.Warn("gateway unreachable", "op", op, "order_id", body["orderId"], "err", err)
		return out, apperror.Wrap(apperror.Transport, "payment gateway unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, apperror.Wrap(apperror.Transport, "read gateway response", err)
	}
	out, err = decodeResponse(raw)
	if err != nil {
		// 5xx without a readable body counts as a transport failure.
		if resp.StatusCode >= 500 {
			return out, apperror.Wrap(apperror.Transport, fmt.Sprintf("gateway returned %d", resp.StatusCode), err)
		}
		return out, apperror.Wrap(apperror.Gateway, fmt.Sprintf("unreadable gateway response (%d)", resp.StatusCode), err)
	}
	if _, ok := out["resultCode"]; !ok {
		return out, apperror.Rejected(strconv.Itoa(resp.StatusCode), "gateway response has no result code", map[string]any(out))
	}
	c.log.Debug("gateway response", "op", op, "order_id", body["orderId"], "result_code", out.get("resultCode"))
	return out, nil
}

func decodeResponse(raw []byte) (response, error) {
	var out response
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New("empty response")
	}
	return out, nil
}
