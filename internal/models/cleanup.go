package models

import "time"

const (
	CleanupEntryCancelled = "cancelled"
	CleanupEntryFailed    = "failed"
)

// CleanupRunResult is produced once per reconciliation pass. Field names are
// part of the log ingestion contract.
type CleanupRunResult struct {
	Success      bool           `json:"success"`
	Timestamp    time.Time      `json:"timestamp"`
	TotalExpired int            `json:"totalExpired"`
	UpdatedCount int            `json:"updatedCount"`
	Results      []CleanupEntry `json:"results,omitempty"`
	Error        string         `json:"error,omitempty"`
}

type CleanupEntry struct {
	PaymentID      string  `json:"paymentId"`
	OrderID        string  `json:"orderId"`
	Amount         float64 `json:"amount"`
	MinutesExpired int64   `json:"minutesExpired"`
	Status         string  `json:"status"`
	Error          string  `json:"error,omitempty"`
}

// Cancelled returns the entries whose transition was written.
func (r CleanupRunResult) Cancelled() []CleanupEntry {
	var out []CleanupEntry
	for _, entry := range r.Results {
		if entry.Status == CleanupEntryCancelled {
			out = append(out, entry)
		}
	}
	return out
}

func (r CleanupRunResult) FailedEntries() []CleanupEntry {
	var out []CleanupEntry
	for _, entry := range r.Results {
		if entry.Status == CleanupEntryFailed {
			out = append(out, entry)
		}
	}
	return out
}
