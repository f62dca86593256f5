package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/baharkarakas/payflow/internal/auth"
	"github.com/baharkarakas/payflow/internal/config"
	"github.com/baharkarakas/payflow/internal/docstore"
	"github.com/baharkarakas/payflow/internal/gateway"
	"github.com/baharkarakas/payflow/internal/models"
	"github.com/baharkarakas/payflow/internal/notify"
	repo "github.com/baharkarakas/payflow/internal/repository"
	dsrepo "github.com/baharkarakas/payflow/internal/repository/docstore"
	"github.com/baharkarakas/payflow/internal/services"
	"github.com/baharkarakas/payflow/internal/signature"
	"github.com/baharkarakas/payflow/internal/worker"
)

const testSecret = "K951B6PE1waDMi640xX08PD3vg6EkVlz"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

type RouterSuite struct {
	suite.Suite

	provider  *httptest.Server
	refundErr bool
	repos     repo.Repositories
	pool      *worker.Pool
	tm        *auth.TokenManager
	cfg       config.Config
	handler   http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.refundErr = false

	s.provider = httptest.NewServer(http.HandlerFunc(s.fakeProvider))

	store, err := docstore.Open(filepath.Join(s.T().TempDir(), "payflow.db"))
	s.Require().NoError(err)
	s.repos, err = dsrepo.NewRepositories(context.Background(), store)
	s.Require().NoError(err)

	s.cfg = config.Config{Env: "dev", RateRPS: 0, StorageBackend: config.BackendDocstore}
	s.tm = auth.NewTokenManager("test-secret", "payflow", time.Minute)
	s.pool = worker.NewPool(1, 16)

	gw := gateway.New(gateway.Config{
		PartnerCode: "MOMO",
		AccessKey:   "F8BBA842ECF85",
		SecretKey:   testSecret,
		Endpoint:    s.provider.URL,
		Timeout:     2 * time.Second,
	}, log)
	dispatcher := notify.NewDispatcher(s.repos.Notifications, notify.LogTransport{Log: log}, nil, log)

	s.handler = NewRouter(RouterDeps{
		Cfg:      s.cfg,
		Tokens:   s.tm,
		Payments: services.NewPaymentService(s.repos.Transactions, s.repos.AuditLogs, gw, dispatcher, s.pool, log),
		Notes:    services.NewNotificationService(s.repos.Notifications, log),
		Ping:     s.repos.Ping,
		Log:      log,
	})
}

func (s *RouterSuite) TearDownTest() {
	s.pool.Stop()
	s.repos.Close()
	s.provider.Close()
}

func (s *RouterSuite) fakeProvider(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/create":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"orderId":    body["orderId"],
			"resultCode": 0,
			"payUrl":     "https://pay.example/" + body["orderId"],
			"deeplink":   "momo://pay?o=" + body["orderId"],
		})
	case "/refund":
		if s.refundErr {
			_ = json.NewEncoder(w).Encode(map[string]any{"resultCode": 1001, "message": "Insufficient balance"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"resultCode": 0, "transId": 99887766})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *RouterSuite) do(method, target, token string, body any) (*httptest.ResponseRecorder, envelope) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		s.Require().NoError(err)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, target, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

type initiated struct {
	PaymentID     string `json:"paymentId"`
	Provider      string `json:"provider"`
	Status        string `json:"status"`
	RedirectURL   string `json:"redirectUrl"`
	DeepLink      string `json:"deepLink"`
	CorrelationID string `json:"correlationId"`
}

func (s *RouterSuite) initiate(token string) initiated {
	rec, env := s.do(http.MethodPost, "/api/v1/payments", token, map[string]any{"amount": 50000, "method": "wallet"})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	var out initiated
	s.Require().NoError(json.Unmarshal(env.Data, &out))
	return out
}

func (s *RouterSuite) ipn(p initiated, resultCode string) map[string]string {
	return signature.SignFields(signature.SHA256, map[string]string{
		"partnerCode": "MOMO",
		"orderId":     p.CorrelationID,
		"requestId":   p.CorrelationID,
		"amount":      "50000",
		"resultCode":  resultCode,
		"message":     "Successful.",
		"transId":     "4088878653",
	}, testSecret)
}

func (s *RouterSuite) TestHealth() {
	rec, env := s.do(http.MethodGet, "/health", "", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.True(env.Success)
}

func (s *RouterSuite) TestMetricsEndpoint() {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *RouterSuite) TestPaymentsRequireToken() {
	rec, env := s.do(http.MethodGet, "/api/v1/payments", "", nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.False(env.Success)
}

func (s *RouterSuite) TestInitiate() {
	p := s.initiate("dev-u1")
	s.NotEmpty(p.PaymentID)
	s.Equal("momo", p.Provider)
	s.Equal("pending", p.Status)
	s.Equal("https://pay.example/"+p.CorrelationID, p.RedirectURL)
	s.NotEmpty(p.DeepLink)
}

func (s *RouterSuite) TestInitiateValidation() {
	rec, env := s.do(http.MethodPost, "/api/v1/payments", "dev-u1", map[string]any{"amount": 10, "method": "wallet"})
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Require().NotNil(env.Error)
	s.Equal("validation", env.Error.Code)
	s.Contains(string(env.Error.Details), "amount")

	n, err := s.repos.Transactions.Find(context.Background(), repo.TransactionFilter{}, repo.FindOptions{})
	s.Require().NoError(err)
	s.Empty(n)
}

func (s *RouterSuite) TestInitiateForAnotherUserNeedsAdmin() {
	rec, _ := s.do(http.MethodPost, "/api/v1/payments", "dev-u1",
		map[string]any{"userId": "u2", "amount": 50000, "method": "wallet"})
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *RouterSuite) TestNotificationCompletesPayment() {
	p := s.initiate("dev-u1")

	rec, env := s.do(http.MethodPost, "/api/v1/payments/momo/ipn", "", s.ipn(p, "0"))
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Contains(string(env.Data), `"status":"completed"`)
	s.Contains(string(env.Data), `"result":"applied"`)

	rec, env = s.do(http.MethodGet, "/api/v1/payments/"+p.PaymentID, "dev-u1", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(string(env.Data), `"providerTransactionId":"4088878653"`)

	// retried by the provider
	rec, env = s.do(http.MethodPost, "/api/v1/payments/momo/ipn", "", s.ipn(p, "0"))
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(string(env.Data), `"result":"duplicate"`)

	// conflicting resolution
	rec, _ = s.do(http.MethodPost, "/api/v1/payments/momo/ipn", "", s.ipn(p, "1006"))
	s.Equal(http.StatusConflict, rec.Code)

	s.Eventually(func() bool {
		_, env := s.do(http.MethodGet, "/api/v1/notifications", "dev-u1", nil)
		var notes []map[string]any
		_ = json.Unmarshal(env.Data, &notes)
		return len(notes) == 1
	}, 2*time.Second, 20*time.Millisecond)

	rec, env = s.do(http.MethodPost, "/api/v1/notifications/read-all", "dev-u1", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"updated":1}`, string(env.Data))
}

func (s *RouterSuite) TestNotificationBadSignature() {
	p := s.initiate("dev-u1")
	payload := s.ipn(p, "0")
	payload["resultCode"] = "1"

	rec, env := s.do(http.MethodPost, "/api/v1/payments/momo/ipn", "", payload)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("signature", env.Error.Code)

	_, env = s.do(http.MethodGet, "/api/v1/payments/"+p.PaymentID, "dev-u1", nil)
	s.Contains(string(env.Data), `"status":"pending"`)
}

func (s *RouterSuite) TestNotificationUnknownOrder() {
	p := initiated{CorrelationID: "does-not-exist"}
	rec, env := s.do(http.MethodPost, "/api/v1/payments/momo/ipn", "", s.ipn(p, "0"))
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("not_found", env.Error.Code)
}

func (s *RouterSuite) TestNotificationInvalidJSON() {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/momo/ipn", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *RouterSuite) TestRedirectPlainAcknowledgement() {
	p := s.initiate("dev-u1")
	q := url.Values{}
	for k, v := range s.ipn(p, "0") {
		q.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/momo/callback?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("payment "+p.PaymentID+": completed\n", rec.Body.String())
}

func (s *RouterSuite) TestRedirectUnsignedIsDisplayOnly() {
	p := s.initiate("dev-u1")
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/payments/momo/callback?orderId="+p.CorrelationID+"&resultCode=0", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("payment "+p.PaymentID+": pending\n", rec.Body.String())
}

func (s *RouterSuite) TestRedirectForwardsToResultPage() {
	p := s.initiate("dev-u1")
	ph := NewRouter(RouterDeps{
		Cfg:      config.Config{Env: "dev", PaymentResultURL: "https://shop.example/result?lang=en"},
		Tokens:   s.tm,
		Payments: s.paymentsFrom(),
		Notes:    services.NewNotificationService(s.repos.Notifications, slog.New(slog.NewTextHandler(io.Discard, nil))),
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	q := url.Values{}
	for k, v := range s.ipn(p, "1006") {
		q.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/momo/callback?"+q.Encode(), nil)
	rec := httptest.NewRecorder()
	ph.ServeHTTP(rec, req)

	s.Require().Equal(http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	s.Require().NoError(err)
	s.Equal("shop.example", loc.Host)
	s.Equal("en", loc.Query().Get("lang"))
	s.Equal(p.PaymentID, loc.Query().Get("paymentId"))
	s.Equal("failed", loc.Query().Get("status"))
}

func (s *RouterSuite) paymentsFrom() *services.PaymentService {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := gateway.New(gateway.Config{SecretKey: testSecret, Endpoint: s.provider.URL}, log)
	return services.NewPaymentService(s.repos.Transactions, s.repos.AuditLogs, gw, nil, nil, log)
}

func (s *RouterSuite) TestRefund() {
	p := s.initiate("dev-u1")
	rec, _ := s.do(http.MethodPost, "/api/v1/payments/momo/ipn", "", s.ipn(p, "0"))
	s.Require().Equal(http.StatusOK, rec.Code)

	rec, _ = s.do(http.MethodPost, "/api/v1/payments/"+p.PaymentID+"/refund", "dev-u2", map[string]string{"reason": "x"})
	s.Equal(http.StatusForbidden, rec.Code)

	rec, env := s.do(http.MethodPost, "/api/v1/payments/"+p.PaymentID+"/refund", "dev-u1", map[string]string{"reason": "changed mind"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Contains(string(env.Data), `"status":"refunded"`)
	s.Contains(string(env.Data), `"refundId"`)

	rec, env = s.do(http.MethodPost, "/api/v1/payments/"+p.PaymentID+"/refund", "dev-u1", nil)
	s.Equal(http.StatusConflict, rec.Code)
	s.Equal("conflict", env.Error.Code)
}

func (s *RouterSuite) TestRefundRejectedByProvider() {
	p := s.initiate("dev-u1")
	rec, _ := s.do(http.MethodPost, "/api/v1/payments/momo/ipn", "", s.ipn(p, "0"))
	s.Require().Equal(http.StatusOK, rec.Code)

	s.refundErr = true
	rec, env := s.do(http.MethodPost, "/api/v1/payments/"+p.PaymentID+"/refund", "dev-u1", nil)
	s.Equal(http.StatusBadGateway, rec.Code)
	s.Equal("gateway", env.Error.Code)
	s.Contains(string(env.Error.Details), `"providerCode":"1001"`)

	_, env = s.do(http.MethodGet, "/api/v1/payments/"+p.PaymentID, "dev-u1", nil)
	s.Contains(string(env.Data), `"status":"completed"`)
}

func (s *RouterSuite) TestListAndOwnership() {
	first := s.initiate("dev-u1")
	second := s.initiate("dev-u1")
	s.initiate("dev-u2")

	rec, env := s.do(http.MethodGet, "/api/v1/payments?limit=10", "dev-u1", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var txs []struct {
		ID string `json:"id"`
	}
	s.Require().NoError(json.Unmarshal(env.Data, &txs))
	s.Require().Len(txs, 2)
	s.Equal(second.PaymentID, txs[0].ID)
	s.Equal(first.PaymentID, txs[1].ID)

	rec, _ = s.do(http.MethodGet, "/api/v1/payments/"+first.PaymentID, "dev-u2", nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *RouterSuite) TestAdminListing() {
	s.initiate("dev-u1")
	s.initiate("dev-u2")

	rec, _ := s.do(http.MethodGet, "/api/v1/admin/payments", "dev-u1", nil)
	s.Equal(http.StatusForbidden, rec.Code)

	token, _, err := s.tm.Generate("ops", services.RoleAdmin)
	s.Require().NoError(err)
	rec, env := s.do(http.MethodGet, "/api/v1/admin/payments?status=pending&limit="+strconv.Itoa(5), token, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var txs []map[string]any
	s.Require().NoError(json.Unmarshal(env.Data, &txs))
	s.Len(txs, 2)
}

func (s *RouterSuite) TestRateLimitSparesProviderCallbacks() {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewRouter(RouterDeps{
		Cfg:      config.Config{Env: "dev", RateRPS: 1},
		Tokens:   s.tm,
		Payments: s.paymentsFrom(),
		Notes:    services.NewNotificationService(s.repos.Notifications, log),
		Log:      log,
	})
	send := func(method, target, token string) int {
		req := httptest.NewRequest(method, target, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// a burst of provider retries from one address
	for i := 0; i < 5; i++ {
		s.NotEqual(http.StatusTooManyRequests, send(http.MethodPost, "/api/v1/payments/momo/ipn", ""))
		s.NotEqual(http.StatusTooManyRequests, send(http.MethodGet, "/api/v1/payments/momo/callback?orderId=x", ""))
	}

	s.Equal(http.StatusOK, send(http.MethodGet, "/api/v1/payments", "dev-u1"))
	s.Equal(http.StatusTooManyRequests, send(http.MethodGet, "/api/v1/payments", "dev-u1"))
}

func (s *RouterSuite) TestUnreadCountAndMarkRead() {
	ctx := context.Background()
	n, err := s.repos.Notifications.Create(ctx, models.Notification{UserID: "u1", Title: "t", Body: "b", Type: models.NotificationPayment})
	s.Require().NoError(err)

	rec, env := s.do(http.MethodGet, "/api/v1/notifications/unread-count", "dev-u1", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"count":1}`, string(env.Data))

	rec, _ = s.do(http.MethodPost, "/api/v1/notifications/"+n.ID+"/read", "dev-u2", nil)
	s.Equal(http.StatusForbidden, rec.Code)

	rec, env = s.do(http.MethodPost, "/api/v1/notifications/"+n.ID+"/read", "dev-u1", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(string(env.Data), `"isRead":true`)

	_, env = s.do(http.MethodGet, "/api/v1/notifications/unread-count", "dev-u1", nil)
	s.JSONEq(`{"count":0}`, string(env.Data))
}
