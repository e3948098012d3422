package orchestrator

import "github.com/yourorg/purchase-gateway/internal/purchase"

// Result is the response of every purchase use case.
type Result struct {
	SessionID     string                         `json:"sessionId"`
	State         purchase.State                 `json:"state"`
	NextAction    purchase.NextAction            `json:"nextAction"`
	Items         []purchase.ProcessedBundleItem `json:"items"`
	Cascade       []string                       `json:"cascade"`
	CurrentBiller string                         `json:"currentBiller,omitempty"`
	DeclineReason string                         `json:"declineReason,omitempty"`
	PurchaseID    string                         `json:"purchaseId,omitempty"`
	MemberID      string                         `json:"memberId,omitempty"`
}

// ResultFor assembles the Result of p in one pass.
func ResultFor(p *purchase.Process) Result {
	biller, _ := p.CurrentBiller()
	return Result{
		SessionID:     p.ID().String(),
		State:         p.State(),
		NextAction:    p.NextAction(),
		Items:         p.Views(),
		Cascade:       p.Cascade().Billers(),
		CurrentBiller: biller,
		DeclineReason: p.DeclineReason(),
		PurchaseID:    p.PurchaseID(),
		MemberID:      p.MemberID(),
	}
}
