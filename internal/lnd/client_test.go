package lnd

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "deadbeef", false)
}

func TestDecodeInvoice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payreq/lnbc1test" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Grpc-Metadata-macaroon"); got != "deadbeef" {
			t.Errorf("missing macaroon header, got %q", got)
		}
		_, _ = w.Write([]byte(`{
            "destination": "02abc",
            "payment_hash": "cafebabe",
            "num_msat": "1000000",
            "timestamp": "1700000000",
            "expiry": "3600",
            "description": "test"
        }`))
	})

	decoded, err := client.DecodeInvoice(context.Background(), "lnbc1test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.PaymentHash != "cafebabe" {
		t.Errorf("unexpected payment hash: %s", decoded.PaymentHash)
	}
	if decoded.NumMsat != 1_000_000 {
		t.Errorf("expected 1000000 msat, got %d", decoded.NumMsat)
	}
}

func TestDecodeInvoiceBadRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"checksum failed"}`, http.StatusBadRequest)
	})

	if _, err := client.DecodeInvoice(context.Background(), "junk"); err == nil {
		t.Fatal("expected error for undecodable invoice")
	}
}

func TestAddInvoiceReturnsHexHash(t *testing.T) {
	raw, _ := hex.DecodeString("00ff00ff")
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var params InvoiceParameters
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if params.ValueMsat != 5_000_000 {
			t.Errorf("expected 5000000 msat, got %d", params.ValueMsat)
		}
		resp := AddedInvoice{
			RHash:          base64.StdEncoding.EncodeToString(raw),
			PaymentRequest: "lnbc1new",
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	hash, bolt11, err := client.AddInvoice(context.Background(), InvoiceParameters{
		Memo:      "5000 sats for @alice on stacksats",
		ValueMsat: 5_000_000,
		Expiry:    10800,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash != "00ff00ff" {
		t.Errorf("expected hex hash 00ff00ff, got %s", hash)
	}
	if bolt11 != "lnbc1new" {
		t.Errorf("unexpected payment request: %s", bolt11)
	}
}

func TestPayInvoiceConfirmed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/router/send" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		// the node enforces both limits, so they must be on the wire
		if req["timeout_seconds"] != float64(30) {
			t.Errorf("expected timeout_seconds 30, got %v", req["timeout_seconds"])
		}
		if req["fee_limit_msat"] != "10000" {
			t.Errorf("expected fee_limit_msat \"10000\", got %v", req["fee_limit_msat"])
		}
		if req["no_inflight_updates"] != true {
			t.Errorf("expected no_inflight_updates, got %v", req["no_inflight_updates"])
		}
		_, _ = w.Write([]byte(`{"result":{"status":"SUCCEEDED","value_msat":"1000000","fee_msat":"3000"}}` + "\n"))
	})

	outcome, err := client.PayInvoice(context.Background(), PaymentParameters{
		Invoice:        "lnbc1test",
		FeeLimitMsat:   10_000,
		TimeoutSeconds: 30,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Confirmed {
		t.Fatal("expected confirmed outcome")
	}
	if outcome.PaidMsat != 1_000_000 || outcome.FeeMsat != 3000 {
		t.Errorf("unexpected amounts: paid=%d fee=%d", outcome.PaidMsat, outcome.FeeMsat)
	}
}

func TestPayInvoiceSkipsInFlightUpdates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"status":"IN_FLIGHT"}}` + "\n"))
		_, _ = w.Write([]byte(`{"result":{"status":"SUCCEEDED","value_msat":"500","fee_msat":"1"}}` + "\n"))
	})

	outcome, err := client.PayInvoice(context.Background(), PaymentParameters{Invoice: "lnbc1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Confirmed || outcome.PaidMsat != 500 {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
}

func TestPayInvoiceWaitsOutSlowNode(t *testing.T) {
	// a node that answers after the requested timeout_seconds still gets to
	// report its own verdict; the client must not declare failure for it
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(1200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"result":{"status":"SUCCEEDED","value_msat":"1000000","fee_msat":"3000"}}` + "\n"))
	})

	outcome, err := client.PayInvoice(context.Background(), PaymentParameters{
		Invoice:        "lnbc1slow",
		TimeoutSeconds: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Confirmed {
		t.Fatalf("expected the node's settled verdict, got %+v", outcome)
	}
}

func TestPayInvoiceTransportErrorIsIndeterminate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	})

	outcome, err := client.PayInvoice(context.Background(), PaymentParameters{Invoice: "lnbc1"})
	if err == nil {
		t.Fatal("expected an error for a dropped stream")
	}
	if outcome.Confirmed || outcome.IsPathfindingTimeout || outcome.IsRouteNotFound ||
		outcome.IsInsufficientBalance || outcome.IsInvalidPayment {
		t.Errorf("no outcome may be reported on a transport error, got %+v", outcome)
	}
}

func TestPayInvoiceFailureClassification(t *testing.T) {
	cases := []struct {
		reason string
		check  func(PaymentOutcome) bool
		name   string
	}{
		{"FAILURE_REASON_INSUFFICIENT_BALANCE", func(o PaymentOutcome) bool { return o.IsInsufficientBalance }, "insufficient balance"},
		{"FAILURE_REASON_INCORRECT_PAYMENT_DETAILS", func(o PaymentOutcome) bool { return o.IsInvalidPayment }, "invalid payment"},
		{"FAILURE_REASON_TIMEOUT", func(o PaymentOutcome) bool { return o.IsPathfindingTimeout }, "timeout"},
		{"FAILURE_REASON_NO_ROUTE", func(o PaymentOutcome) bool { return o.IsRouteNotFound }, "no route"},
		{"FAILURE_REASON_ERROR", func(o PaymentOutcome) bool {
			return !o.IsInsufficientBalance && !o.IsInvalidPayment && !o.IsPathfindingTimeout && !o.IsRouteNotFound
		}, "unclassified"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"result": map[string]any{"status": "FAILED", "failure_reason": tc.reason},
				})
			})

			outcome, err := client.PayInvoice(context.Background(), PaymentParameters{Invoice: "lnbc1"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if outcome.Confirmed {
				t.Fatal("expected failure outcome")
			}
			if !tc.check(outcome) {
				t.Errorf("wrong classification for %q: %+v", tc.reason, outcome)
			}
		})
	}
}

func TestTrackPayment(t *testing.T) {
	raw, _ := hex.DecodeString("cafebabe")
	wantPath := "/v2/router/track/" + base64.URLEncoding.EncodeToString(raw)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wantPath {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("no_inflight_updates") != "true" {
			t.Errorf("expected no_inflight_updates on the query")
		}
		_, _ = w.Write([]byte(`{"result":{"status":"SUCCEEDED","value_msat":"1000000","fee_msat":"2000"}}` + "\n"))
	})

	outcome, err := client.TrackPayment(context.Background(), "cafebabe")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Confirmed || outcome.PaidMsat != 1_000_000 || outcome.FeeMsat != 2000 {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
}

func TestTrackPaymentNotFound(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"http 404": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"message":"payment isn't initiated"}`, http.StatusNotFound)
		},
		"stream error": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"error":{"code":5,"message":"payment isn't initiated"}}` + "\n"))
		},
	}

	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, handler)
			_, err := client.TrackPayment(context.Background(), "cafebabe")
			if !errors.Is(err, ErrPaymentNotFound) {
				t.Fatalf("expected ErrPaymentNotFound, got %v", err)
			}
		})
	}
}
