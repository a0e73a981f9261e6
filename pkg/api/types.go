package api

import "time"

// BalanceResponse is returned by the balance endpoint.
type BalanceResponse struct {
	Tokens    int64     `json:"tokens"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DebitRequest asks to consume tokens, either for a named feature or a raw
// amount. Exactly one of Feature or Amount should be set; Feature wins when
// both are present.
type DebitRequest struct {
	Feature string `json:"feature,omitempty"`
	Amount  int64  `json:"amount,omitempty"`
}

// DebitResponse reports the balance after a successful debit.
type DebitResponse struct {
	Tokens int64 `json:"tokens"`
	Cost   int64 `json:"cost"`
}

// UsageResponse reports a user's cumulative token consumption.
type UsageResponse struct {
	Total int64 `json:"total"`
}

// PurchaseResponse is one entry in the purchase history.
type PurchaseResponse struct {
	PackageID   string    `json:"packageId"`
	PackageName string    `json:"packageName,omitempty"`
	Tokens      int64     `json:"tokens"`
	AmountMinor int64     `json:"amountMinor"`
	Currency    string    `json:"currency"`
	ExternalID  string    `json:"externalId"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// VerifyPurchaseRequest asks to reconcile a checkout session by id.
type VerifyPurchaseRequest struct {
	SessionID string `json:"sessionId"`
}

// VerifyPurchaseResponse confirms the reconciled purchase and new balance.
type VerifyPurchaseResponse struct {
	Tokens   int64             `json:"tokens"`
	Purchase *PurchaseResponse `json:"purchase"`
}

// ErrorResponse is the JSON body for all error statuses.
type ErrorResponse struct {
	Error     string `json:"error"`
	Required  int64  `json:"required,omitempty"`
	Available int64  `json:"available,omitempty"`
}
