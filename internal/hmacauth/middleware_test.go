package hmacauth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func fixedVerifier(now time.Time) *Verifier {
	return &Verifier{
		Secret:  "secret",
		MaxSkew: time.Minute,
		Now: func() time.Time {
			return now
		},
	}
}

func TestMiddleware_AllowsValidSignature(t *testing.T) {
	body := `{"amount":"1000"}`
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := computeSignature("secret", ts, []byte(body))

	v := fixedVerifier(now)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/mortgages", strings.NewReader(body))
	req.Header.Set(DefaultSignatureHeader, sig)
	req.Header.Set(DefaultTimestampHeader, ts)
	rec := httptest.NewRecorder()

	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusOK)
	})

	v.Middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen != body {
		t.Fatalf("handler saw body %q, want %q", seen, body)
	}
}

func TestMiddleware_RejectsInvalidSignature(t *testing.T) {
	body := `{"amount":"5"}`
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)

	v := fixedVerifier(now)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/mortgages", strings.NewReader(body))
	req.Header.Set(DefaultSignatureHeader, "deadbeef")
	req.Header.Set(DefaultTimestampHeader, ts)
	rec := httptest.NewRecorder()

	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), ErrInvalidSignature.Error()) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestMiddleware_RejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	signer := fixedVerifier(now.Add(-5 * time.Minute))
	v := fixedVerifier(now)

	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("{}"))
	signer.Sign(req, []byte("{}"))
	rec := httptest.NewRecorder()

	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), ErrStaleTimestamp.Error()) {
		t.Fatalf("expected stale timestamp, got %s", rec.Body.String())
	}
}

func TestSignRoundTripWithCustomHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := fixedVerifier(now)
	v.SignatureHeader = "X-Mortgage-Signature"
	v.TimestampHeader = "X-Mortgage-Timestamp"

	body := []byte(`{"amount":"7"}`)
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(string(body)))
	v.Sign(req, body)
	if req.Header.Get("X-Mortgage-Signature") == "" {
		t.Fatalf("signature header not set")
	}

	rec := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestMiddleware_DisabledWithoutSecret(t *testing.T) {
	v := &Verifier{}
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("{}"))
	v.Sign(req, []byte("{}"))
	if req.Header.Get(DefaultSignatureHeader) != "" {
		t.Fatalf("unexpected signature without secret")
	}

	rec := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
