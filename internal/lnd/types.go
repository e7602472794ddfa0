package lnd

// JSON shapes follow the LND v1 REST API. Numeric fields arrive as strings
// on the wire, hence the ",string" tags.

type NodeInfo struct {
	IdentityPubkey string `json:"identity_pubkey"`
	Alias          string `json:"alias"`
	SyncedToChain  bool   `json:"synced_to_chain"`
}

type DecodedInvoice struct {
	Destination string `json:"destination"`
	PaymentHash string `json:"payment_hash"`
	NumMsat     int64  `json:"num_msat,string"`
	Timestamp   int64  `json:"timestamp,string"`
	Expiry      int64  `json:"expiry,string"`
	Description string `json:"description"`
}

type InvoiceParameters struct {
	Memo      string `json:"memo,omitempty"`
	ValueMsat int64  `json:"value_msat,string"`
	Expiry    int64  `json:"expiry,string"`
}

type AddedInvoice struct {
	RHash          string `json:"r_hash"`
	PaymentRequest string `json:"payment_request"`
}

// PaymentParameters describe a payment dispatch. TimeoutSeconds and
// FeeLimitMsat are enforced by the node's router, not by this client.
type PaymentParameters struct {
	Invoice        string
	FeeLimitMsat   int64
	TimeoutSeconds int64
}

// Payment status values as the router reports them.
const (
	PaymentInFlight  = "IN_FLIGHT"
	PaymentSucceeded = "SUCCEEDED"
	PaymentFailed    = "FAILED"
)

// Payment is one update from the router's send/track streams.
type Payment struct {
	PaymentHash   string `json:"payment_hash"`
	Status        string `json:"status"`
	ValueMsat     int64  `json:"value_msat,string"`
	FeeMsat       int64  `json:"fee_msat,string"`
	FailureReason string `json:"failure_reason"`
}

// PaymentOutcome is the terminal result of a dispatched payment. Exactly one
// of Confirmed or the failure flags describes what happened.
type PaymentOutcome struct {
	Confirmed bool

	// set when Confirmed; PaidMsat excludes the fee
	PaidMsat int64
	FeeMsat  int64

	// set when not Confirmed
	IsInsufficientBalance bool
	IsInvalidPayment      bool
	IsPathfindingTimeout  bool
	IsRouteNotFound       bool
	FailureMessage        string
}
