package models

import "time"

// Response is the request/response envelope used by every HTTP handler.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// WithdrawalRequestInput is the body of POST /withdrawal/request.
// Amount is a human decimal string; it is converted to raw units at
// this boundary only.
type WithdrawalRequestInput struct {
	Amount    string `json:"amount"`
	ToAddress string `json:"toAddress"`
}

// RejectWithdrawalInput is the body of POST /withdrawal/reject/{id}.
type RejectWithdrawalInput struct {
	Reason string `json:"reason"`
}

// WithdrawalView is the API shape of a withdrawal request.
type WithdrawalView struct {
	Id          string `json:"withdrawalId"`
	UserId      string `json:"userId,omitempty"`
	Amount      string `json:"amount"`
	ToAddress   string `json:"toAddress"`
	Status      string `json:"status"`
	TxHash      string `json:"txHash,omitempty"`
	RequestedAt string `json:"requestedAt"`
}

// BalanceView is the API shape of a user balance.
type BalanceView struct {
	UserId  string `json:"userId"`
	Balance string `json:"balance"`
}

// HistoryItem is one row of the merged ledger + deposit history.
type HistoryItem struct {
	Kind        string    `json:"kind"` // "ledger" or "deposit"
	Id          string    `json:"id"`
	Type        string    `json:"type"`
	Amount      string    `json:"amount"`
	Status      string    `json:"status,omitempty"`
	TxHash      string    `json:"txHash,omitempty"`
	ReferenceId string    `json:"referenceId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
