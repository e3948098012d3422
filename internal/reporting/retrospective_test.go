package reporting

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestRetrospectiveReporter_GenerateRetrospective(t *testing.T) {
	reporter := NewRetrospectiveReporter()

	time1 := time.Date(2023, 1, 1, 10, 0, 0, 0, time.UTC)
	time2 := time.Date(2023, 1, 1, 10, 5, 0, 0, time.UTC)
	time3 := time.Date(2023, 1, 1, 10, 10, 0, 0, time.UTC)
	time4 := time.Date(2023, 1, 1, 9, 55, 0, 0, time.UTC)

	empty := func() *RetrospectiveReport {
		return &RetrospectiveReport{
			AmountByCurrency: make(map[string]int64),
			DeclineBreakdown: make(map[string]int),
			BillerUsage:      make(map[string]int),
			BillerApprovals:  make(map[string]int),
		}
	}

	tests := []struct {
		name     string
		logs     []LogEntry
		expected func() *RetrospectiveReport
	}{
		{
			name:     "EmptyLogs",
			logs:     []LogEntry{},
			expected: empty,
		},
		{
			name: "SingleApprovedAttempt",
			logs: []LogEntry{
				{Timestamp: time1, SessionID: "s1", Status: StatusApproved, Amount: 1000, Currency: "USD", Biller: "rocketgate"},
			},
			expected: func() *RetrospectiveReport {
				r := empty()
				r.TotalAttempts = 1
				r.ApprovedAttempts = 1
				r.Sessions = 1
				r.TotalAmountApproved = 1000
				r.AmountByCurrency["USD"] = 1000
				r.BillerUsage["rocketgate"] = 1
				r.BillerApprovals["rocketgate"] = 1
				r.DateFrom, r.DateTo = time1, time1
				return r
			},
		},
		{
			name: "FailoverThenCrossSale",
			logs: []LogEntry{
				{Timestamp: time2, SessionID: "s1", Status: StatusError, Amount: 1000, Currency: "USD", Biller: "rocketgate", ErrorCode: "biller_unavailable"},
				{Timestamp: time3, SessionID: "s1", Status: StatusApproved, Amount: 1000, Currency: "USD", Biller: "netbilling"},
				{Timestamp: time3, SessionID: "s1", CrossSale: true, Status: StatusDeclined, Amount: 500, Currency: "USD", Biller: "netbilling", ErrorCode: "do_not_honor"},
				{Timestamp: time4, SessionID: "s2", Status: StatusPending, Amount: 700, Currency: "EUR", Biller: "rocketgate"},
			},
			expected: func() *RetrospectiveReport {
				r := empty()
				r.TotalAttempts = 4
				r.ApprovedAttempts = 1
				r.DeclinedAttempts = 1
				r.ErroredAttempts = 1
				r.PendingAttempts = 1
				r.CrossSaleAttempts = 1
				r.Sessions = 2
				r.TotalAmountApproved = 1000
				r.AmountByCurrency["USD"] = 1000
				r.DeclineBreakdown["biller_unavailable"] = 1
				r.DeclineBreakdown["do_not_honor"] = 1
				r.BillerUsage["rocketgate"] = 2
				r.BillerUsage["netbilling"] = 2
				r.BillerApprovals["netbilling"] = 1
				r.DateFrom, r.DateTo = time4, time3
				r.ProcessingDuration = time3.Sub(time4)
				return r
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := reporter.GenerateRetrospective(tt.logs)
			if err != nil {
				t.Fatalf("GenerateRetrospective() error = %v", err)
			}
			if want := tt.expected(); !reflect.DeepEqual(report, want) {
				t.Errorf("GenerateRetrospective() got = %+v, want %+v", report, want)
			}
		})
	}
}

func TestLedger(t *testing.T) {
	l := NewLedger(3)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(LogEntry{Status: StatusApproved})
		}()
	}
	wg.Wait()

	entries := l.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected ledger bounded to 3 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Timestamp.IsZero() {
			t.Errorf("expected timestamp to be filled in")
		}
	}
}
