// Package reporting keeps the biller attempt ledger and summarizes it.
package reporting

import (
	"sync"
	"time"
)

// Attempt status values recorded in the ledger.
const (
	StatusApproved = "approved"
	StatusDeclined = "declined"
	StatusError    = "error"
	StatusPending  = "pending"
	StatusAborted  = "aborted"
)

// LogEntry is one biller attempt.
type LogEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"sessionId"`
	SiteID       string    `json:"siteId"`
	CrossSale    bool      `json:"crossSale"`
	Status       string    `json:"status"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	Biller       string    `json:"biller"`
	ErrorCode    string    `json:"errorCode,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// Ledger is an in-memory, bounded attempt log safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	entries []LogEntry
	max     int
}

// NewLedger keeps at most max entries; max <= 0 keeps everything.
func NewLedger(max int) *Ledger {
	return &Ledger{max: max}
}

func (l *Ledger) Record(e LogEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	if l.max > 0 && len(l.entries) > l.max {
		l.entries = append([]LogEntry(nil), l.entries[len(l.entries)-l.max:]...)
	}
}

// Entries returns a copy of the ledger.
func (l *Ledger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}

// RetrospectiveReport summarizes biller attempts.
type RetrospectiveReport struct {
	TotalAttempts       int              `json:"totalAttempts"`
	ApprovedAttempts    int              `json:"approvedAttempts"`
	DeclinedAttempts    int              `json:"declinedAttempts"`
	ErroredAttempts     int              `json:"erroredAttempts"`
	PendingAttempts     int              `json:"pendingAttempts"`
	CrossSaleAttempts   int              `json:"crossSaleAttempts"`
	Sessions            int              `json:"sessions"`
	TotalAmountApproved int64            `json:"totalAmountApproved"`
	AmountByCurrency    map[string]int64 `json:"amountByCurrency"`  // approved amounts only
	DeclineBreakdown    map[string]int   `json:"declineBreakdown"`  // error code counts of declines and errors
	BillerUsage         map[string]int   `json:"billerUsage"`       // attempts per biller
	BillerApprovals     map[string]int   `json:"billerApprovals"`
	DateFrom            time.Time        `json:"dateFrom"`
	DateTo              time.Time        `json:"dateTo"`
	ProcessingDuration  time.Duration    `json:"processingDuration"`
}

// RetrospectiveReporter generates retrospective reports from ledger entries.
type RetrospectiveReporter struct{}

func NewRetrospectiveReporter() *RetrospectiveReporter {
	return &RetrospectiveReporter{}
}

// GenerateRetrospective analyzes logs and produces a RetrospectiveReport.
func (rr *RetrospectiveReporter) GenerateRetrospective(logs []LogEntry) (*RetrospectiveReport, error) {
	report := &RetrospectiveReport{
		AmountByCurrency: make(map[string]int64),
		DeclineBreakdown: make(map[string]int),
		BillerUsage:      make(map[string]int),
		BillerApprovals:  make(map[string]int),
	}
	if len(logs) == 0 {
		return report, nil
	}

	sessions := make(map[string]struct{})
	first := true
	for _, log := range logs {
		report.TotalAttempts++
		if log.SessionID != "" {
			sessions[log.SessionID] = struct{}{}
		}
		if !log.Timestamp.IsZero() {
			if first || log.Timestamp.Before(report.DateFrom) {
				report.DateFrom = log.Timestamp
			}
			if first || log.Timestamp.After(report.DateTo) {
				report.DateTo = log.Timestamp
			}
			first = false
		}
		if log.Biller != "" {
			report.BillerUsage[log.Biller]++
		}
		if log.CrossSale {
			report.CrossSaleAttempts++
		}

		switch log.Status {
		case StatusApproved:
			report.ApprovedAttempts++
			report.TotalAmountApproved += log.Amount
			report.AmountByCurrency[log.Currency] += log.Amount
			if log.Biller != "" {
				report.BillerApprovals[log.Biller]++
			}
		case StatusDeclined, StatusError:
			if log.Status == StatusDeclined {
				report.DeclinedAttempts++
			} else {
				report.ErroredAttempts++
			}
			if log.ErrorCode != "" {
				report.DeclineBreakdown[log.ErrorCode]++
			}
		case StatusPending:
			report.PendingAttempts++
		}
	}
	report.Sessions = len(sessions)
	report.ProcessingDuration = report.DateTo.Sub(report.DateFrom)
	return report, nil
}
