package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yzernik/squeakroad-sub000/internal/authutil"
	"github.com/yzernik/squeakroad-sub000/internal/control"
	"github.com/yzernik/squeakroad-sub000/internal/eventbus"
	"github.com/yzernik/squeakroad-sub000/internal/metrics"
	"github.com/yzernik/squeakroad-sub000/internal/models"
	"github.com/yzernik/squeakroad-sub000/internal/storage"
)

type stubBackend struct {
	bus     *eventbus.Bus
	summary models.PaymentSummary
	err     error
}

func (b *stubBackend) GetPaymentSummary(ctx context.Context) (models.PaymentSummary, error) {
	return b.summary, b.err
}

func (b *stubBackend) SubscribeReceivedPayments() (*eventbus.Iterator[models.ReceivedPayment], error) {
	sub, err := b.bus.Subscribe("")
	if err != nil {
		return nil, err
	}
	return eventbus.Filter(sub, func(ev eventbus.Event) (models.ReceivedPayment, bool) {
		e, ok := ev.(eventbus.NewReceivedPayment)
		return e.Payment, ok
	}), nil
}

func (b *stubBackend) SubscribeSqueakEntries() (*control.EntryIterator, error) {
	return nil, errors.New("not supported")
}

type fixture struct {
	srv     *Server
	backend *stubBackend
	journal *storage.Journal
	issuer  *authutil.Issuer
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, db Pinger) *fixture {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	issuer, err := authutil.NewIssuer("s3cret", time.Hour)
	require.NoError(t, err)
	journal, err := storage.OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })
	bus := eventbus.New(zerolog.Nop())
	t.Cleanup(bus.Close)

	f := &fixture{
		backend: &stubBackend{bus: bus},
		journal: journal,
		issuer:  issuer,
		metrics: metrics.New(),
	}
	f.srv = New(f.backend, journal, db, issuer, f.metrics, Options{
		Username:       "operator",
		PasswordHash:   string(hash),
		AllowedOrigins: []string{"http://dashboard.local"},
	}, zerolog.Nop())
	return f
}

func (f *fixture) token(t *testing.T) string {
	t.Helper()
	token, err := f.issuer.Issue("operator")
	require.NoError(t, err)
	return token
}

func TestHealthWithoutDB(t *testing.T) {
	f := newFixture(t, nil)
	rr := httptest.NewRecorder()
	f.srv.healthHandler()(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHealthPingsDB(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	f := newFixture(t, db)

	mock.ExpectPing()
	rr := httptest.NewRecorder()
	f.srv.healthHandler()(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	rr = httptest.NewRecorder()
	f.srv.healthHandler()(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var payload healthPayload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Equal(t, "error", payload.Status)

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, uint64(2), f.srv.MetricsSnapshot().HealthChecks)
}

func TestLogin(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"operator","password":"hunter2"}`))
	rr := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	user, err := f.issuer.Validate(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "operator", user)

	for _, body := range []string{
		`{"username":"operator","password":"wrong"}`,
		`{"username":"someone","password":"hunter2"}`,
	} {
		rr = httptest.NewRecorder()
		f.srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body)))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, body)
	}

	rr = httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	snap := f.srv.MetricsSnapshot()
	assert.Equal(t, uint64(4), snap.LoginAttempts)
	assert.Equal(t, uint64(2), snap.FailedLogins)
}

func TestStatsRequiresToken(t *testing.T) {
	f := newFixture(t, nil)
	rr := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil)
	f.backend.summary = models.PaymentSummary{NumReceivedPayments: 2, AmountEarnedMsat: 3000}
	f.metrics.IncSqueaksSaved()

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t))
	rr := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var payload statsPayload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Equal(t, int64(3000), payload.Payments.AmountEarnedMsat)
	assert.Equal(t, 1, payload.Node.SqueaksSaved)

	f.backend.err = errors.New("db down")
	rr = httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestActivity(t *testing.T) {
	f := newFixture(t, nil)
	for _, subject := range []string{"a", "b", "c"} {
		require.NoError(t, f.journal.Append(storage.Activity{Kind: storage.ActivityNewSqueak, Subject: subject}))
		time.Sleep(time.Millisecond)
	}

	req := httptest.NewRequest(http.MethodGet, "/activity?limit=2&token="+f.token(t), nil)
	rr := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var entries []storage.Activity
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].Subject)

	req = httptest.NewRequest(http.MethodGet, "/activity?limit=zero&token="+f.token(t), nil)
	rr = httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPaymentsSocket(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/payments?token=" + f.token(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	f.backend.bus.Publish(eventbus.NewSqueak{})
	f.backend.bus.Publish(eventbus.NewReceivedPayment{Payment: models.ReceivedPayment{ID: 7, PriceMsat: 1000}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got models.ReceivedPayment
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, int64(1000), got.PriceMsat)
}

func TestSocketRejectsForeignOrigin(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/payments?token=" + f.token(t)
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer abc"))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken("abc"))
}

func TestRequestsAreClassified(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.Router().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stats", nil))
	f.srv.Router().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	snap := f.srv.MetricsSnapshot()
	assert.Equal(t, uint64(2), snap.Requests)
	assert.Equal(t, uint64(1), snap.ClientErrors)
	assert.Equal(t, uint64(1), snap.ServerErrors)
}
