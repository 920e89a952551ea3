package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	venuecrypto "github.com/duskpool/venue/pkg/crypto"
	"github.com/duskpool/venue/pkg/executor"
	"github.com/duskpool/venue/pkg/ledger"
	"github.com/duskpool/venue/pkg/messages"
	"github.com/duskpool/venue/pkg/orderbook"
	"github.com/duskpool/venue/pkg/queue"
	"github.com/duskpool/venue/pkg/util"
)

type fakeHeartbeater struct{ at int64 }

func (f fakeHeartbeater) Heartbeat() int64 { return f.at }

func newTestServer(t *testing.T) (*Server, *queue.IncomingQueue) {
	t.Helper()
	l := ledger.New(nil)
	book := orderbook.New(nil)
	msgs := messages.New(nil)
	in := queue.NewIncoming(8)
	out := queue.NewOutgoing(8)
	ex := executor.New(l, book, msgs, in, out, nil, util.RealClock{}, zap.NewNop(), nil)

	s := NewServer(in, l, msgs, ex, fakeHeartbeater{1}, fakeHeartbeater{2}, 300*time.Second, util.RealClock{}, zap.NewNop())
	return s, in
}

// signedRequest builds an httptest.Request carrying a valid envelope for
// a freshly generated signer, at the given Unix timestamp.
func signedRequest(t *testing.T, method, path string, body []byte, ts int64) *http.Request {
	t.Helper()
	signer, err := venuecrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	canonical := venuecrypto.CanonicalString(method, path, body, ts)
	sig, err := signer.SignMessage([]byte(canonical))
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set(headerAddress, signer.Address().Hex())
	req.Header.Set(headerTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(headerSignature, hex.EncodeToString(sig))
	return req
}

func TestSubmitOrderAccepted(t *testing.T) {
	s, in := newTestServer(t)
	body, _ := json.Marshal(SubmitOrderRequest{Side: "buy", Price: "2.5", Quantity: "10"})
	req := signedRequest(t, "POST", "/v1/orders", body, time.Now().Unix())

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp MessageIDResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.MessageID == "" {
		t.Error("expected non-empty message_id")
	}

	select {
	case item := <-in.Receive():
		if item.Kind != queue.IncomingOrder {
			t.Errorf("kind = %v, want IncomingOrder", item.Kind)
		}
	default:
		t.Fatal("expected order enqueued")
	}
}

func TestSubmitOrderRejectsBadSignature(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(SubmitOrderRequest{Side: "buy", Price: "2.5", Quantity: "10"})
	req := signedRequest(t, "POST", "/v1/orders", body, time.Now().Unix())
	req.Header.Set(headerSignature, hex.EncodeToString(make([]byte, 65)))

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestSubmitOrderRejectsStaleTimestamp(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(SubmitOrderRequest{Side: "buy", Price: "2.5", Quantity: "10"})
	staleTs := time.Now().Add(-1 * time.Hour).Unix()
	req := signedRequest(t, "POST", "/v1/orders", body, staleTs)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for stale timestamp", w.Code)
	}
}

func TestSubmitOrderRejectsBadDecimal(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(SubmitOrderRequest{Side: "buy", Price: "2.12345678", Quantity: "10"})
	req := signedRequest(t, "POST", "/v1/orders", body, time.Now().Unix())

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for over-precise decimal", w.Code)
	}
}

func TestCancelAndWithdrawalAccepted(t *testing.T) {
	s, in := newTestServer(t)

	cancelBody, _ := json.Marshal(CancelRequest{OrderID: "some-order"})
	cancelReq := signedRequest(t, "POST", "/v1/orders/cancel", cancelBody, time.Now().Unix())
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, cancelReq)
	if w.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d, body = %s", w.Code, w.Body.String())
	}
	<-in.Receive()

	wdBody, _ := json.Marshal(WithdrawalRequest{Asset: "a", Amount: "100"})
	wdReq := signedRequest(t, "POST", "/v1/withdrawals", wdBody, time.Now().Unix())
	w2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(w2, wdReq)
	if w2.Code != http.StatusAccepted {
		t.Fatalf("withdrawal status = %d, body = %s", w2.Code, w2.Body.String())
	}
	item := <-in.Receive()
	if item.Kind != queue.IncomingWithdrawal {
		t.Errorf("kind = %v, want IncomingWithdrawal", item.Kind)
	}
}

func TestMessageStatusRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(SubmitOrderRequest{Side: "sell", Price: "3", Quantity: "1"})
	req := signedRequest(t, "POST", "/v1/orders", body, time.Now().Unix())
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp MessageIDResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	statusReq := httptest.NewRequest("GET", "/v1/messages/"+resp.MessageID, nil)
	statusW := httptest.NewRecorder()
	s.Handler().ServeHTTP(statusW, statusReq)

	if statusW.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", statusW.Code, statusW.Body.String())
	}
	var status MessageStatusResponse
	json.Unmarshal(statusW.Body.Bytes(), &status)
	if status.Status != "received" {
		t.Errorf("status = %q, want received", status.Status)
	}
}

func TestMessageStatusNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/v1/messages/does-not-exist", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetBalance(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/v1/accounts/0x0000000000000000000000000000000000000001/balance?asset=a", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var bal BalanceResponse
	json.Unmarshal(w.Body.Bytes(), &bal)
	if bal.Available != 0 {
		t.Errorf("available = %d, want 0 for fresh account", bal.Available)
	}
}

func TestGetTradesEmpty(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/v1/trades", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var trades []TradeResponse
	json.Unmarshal(w.Body.Bytes(), &trades)
	if len(trades) != 0 {
		t.Errorf("trades = %v, want empty", trades)
	}
}

func TestHealthReportsHeartbeats(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp HealthResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.ProcessorAliveAt != 1 || resp.IngestorAliveAt != 2 {
		t.Errorf("health = %+v, want processor=1 ingestor=2", resp)
	}
}
