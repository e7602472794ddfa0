package lnd

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrPaymentNotFound means the node has no record of the payment, so it was
// never dispatched.
var ErrPaymentNotFound = errors.New("lnd: payment not found")

// Client talks to an LND node over its REST API.
type Client struct {
	baseURL  string
	macaroon string
	http     *http.Client
	stream   *http.Client
}

// NewClient builds a client for the node at host (e.g. "lnd:8080"). The
// macaroon is hex-encoded. insecure skips TLS verification for nodes with
// self-signed certificates.
func NewClient(host, macaroonHex string, insecure bool) *Client {
	transport := &http.Transport{}
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	baseURL := host
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}
	return &Client{
		baseURL:  baseURL,
		macaroon: macaroonHex,
		http: &http.Client{
			Transport: transport,
			Timeout:   time.Minute,
		},
		// router calls stream updates until the payment is terminal; the
		// deadline comes from the caller's context, not a client timeout
		stream: &http.Client{Transport: transport},
	}
}

func (c *Client) GetInfo(ctx context.Context) (NodeInfo, error) {
	var info NodeInfo
	if err := c.do(ctx, http.MethodGet, "/v1/getinfo", nil, &info); err != nil {
		return NodeInfo{}, err
	}
	return info, nil
}

// DecodeInvoice asks the node to decode a BOLT11 payment request.
func (c *Client) DecodeInvoice(ctx context.Context, bolt11 string) (DecodedInvoice, error) {
	var decoded DecodedInvoice
	if err := c.do(ctx, http.MethodGet, "/v1/payreq/"+url.PathEscape(bolt11), nil, &decoded); err != nil {
		return DecodedInvoice{}, err
	}
	if decoded.PaymentHash == "" {
		return DecodedInvoice{}, fmt.Errorf("lnd: decoded invoice has no payment hash")
	}
	return decoded, nil
}

// AddInvoice creates a receive invoice, returning the payment hash (hex)
// and the encoded payment request.
func (c *Client) AddInvoice(ctx context.Context, params InvoiceParameters) (hash, bolt11 string, err error) {
	var added AddedInvoice
	if err := c.do(ctx, http.MethodPost, "/v1/invoices", params, &added); err != nil {
		return "", "", err
	}
	raw, err := base64.StdEncoding.DecodeString(added.RHash)
	if err != nil {
		return "", "", fmt.Errorf("lnd: bad r_hash in response: %w", err)
	}
	return hex.EncodeToString(raw), added.PaymentRequest, nil
}

type routerSendRequest struct {
	PaymentRequest    string `json:"payment_request"`
	TimeoutSeconds    int64  `json:"timeout_seconds"`
	FeeLimitMsat      int64  `json:"fee_limit_msat,string"`
	NoInflightUpdates bool   `json:"no_inflight_updates"`
}

// paymentUpdate is one frame of the router's newline-delimited stream.
type paymentUpdate struct {
	Result Payment `json:"result"`
	Error  struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// PayInvoice dispatches a payment through the router and blocks until the
// node reports a terminal state. The timeout and fee limit are enforced by
// the node itself; a transport or context error here says nothing about the
// payment, which may still settle. Callers must treat err != nil as
// indeterminate and resolve the real state with TrackPayment.
func (c *Client) PayInvoice(ctx context.Context, params PaymentParameters) (PaymentOutcome, error) {
	req := routerSendRequest{
		PaymentRequest:    params.Invoice,
		TimeoutSeconds:    params.TimeoutSeconds,
		FeeLimitMsat:      params.FeeLimitMsat,
		NoInflightUpdates: true,
	}
	return c.awaitPayment(ctx, http.MethodPost, "/v2/router/send", req)
}

// TrackPayment blocks until the payment identified by its hash (hex) reaches
// a terminal state. Returns ErrPaymentNotFound if the node never saw it.
func (c *Client) TrackPayment(ctx context.Context, paymentHash string) (PaymentOutcome, error) {
	raw, err := hex.DecodeString(paymentHash)
	if err != nil {
		return PaymentOutcome{}, fmt.Errorf("lnd: bad payment hash %q: %w", paymentHash, err)
	}
	path := "/v2/router/track/" + url.PathEscape(base64.URLEncoding.EncodeToString(raw)) + "?no_inflight_updates=true"
	return c.awaitPayment(ctx, http.MethodGet, path, nil)
}

// awaitPayment reads the router's payment stream until a terminal update.
func (c *Client) awaitPayment(ctx context.Context, method, path string, body any) (PaymentOutcome, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return PaymentOutcome{}, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return PaymentOutcome{}, err
	}
	req.Header.Set("Grpc-Metadata-macaroon", c.macaroon)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return PaymentOutcome{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return PaymentOutcome{}, ErrPaymentNotFound
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return PaymentOutcome{}, fmt.Errorf("lnd: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var update paymentUpdate
		if err := dec.Decode(&update); err != nil {
			if errors.Is(err, io.EOF) {
				return PaymentOutcome{}, fmt.Errorf("lnd: payment stream ended without a terminal state")
			}
			return PaymentOutcome{}, err
		}
		if update.Error.Message != "" {
			if strings.Contains(update.Error.Message, "payment isn't initiated") {
				return PaymentOutcome{}, ErrPaymentNotFound
			}
			return PaymentOutcome{}, fmt.Errorf("lnd: %s", update.Error.Message)
		}
		switch update.Result.Status {
		case PaymentSucceeded:
			return PaymentOutcome{
				Confirmed: true,
				PaidMsat:  update.Result.ValueMsat,
				FeeMsat:   update.Result.FeeMsat,
			}, nil
		case PaymentFailed:
			return classifyFailure(update.Result.FailureReason), nil
		}
		// in-flight update, keep reading
	}
}

// classifyFailure maps the router's failure_reason onto the outcome flags.
func classifyFailure(reason string) PaymentOutcome {
	out := PaymentOutcome{FailureMessage: reason}
	switch reason {
	case "FAILURE_REASON_INSUFFICIENT_BALANCE":
		out.IsInsufficientBalance = true
	case "FAILURE_REASON_INCORRECT_PAYMENT_DETAILS":
		out.IsInvalidPayment = true
	case "FAILURE_REASON_TIMEOUT":
		out.IsPathfindingTimeout = true
	case "FAILURE_REASON_NO_ROUTE":
		out.IsRouteNotFound = true
	}
	return out
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Grpc-Metadata-macaroon", c.macaroon)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("lnd: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
