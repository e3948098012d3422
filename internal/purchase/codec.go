package purchase

import (
	"encoding/json"
	"fmt"
	"time"
)

type cascadeJSON struct {
	Billers []string `json:"billers"`
	Cursor  int      `json:"cursor"`
}

func (c Cascade) MarshalJSON() ([]byte, error) {
	return json.Marshal(cascadeJSON{Billers: c.billers, Cursor: c.cursor})
}

func (c *Cascade) UnmarshalJSON(data []byte) error {
	var raw cascadeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Cursor < 0 || raw.Cursor > len(raw.Billers) {
		return fmt.Errorf("purchase: cascade cursor %d out of range", raw.Cursor)
	}
	c.billers = raw.Billers
	c.cursor = raw.Cursor
	return nil
}

func (c TransactionCollection) MarshalJSON() ([]byte, error) {
	if c.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.items)
}

func (c *TransactionCollection) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &c.items)
}

type itemJSON struct {
	ItemID            ItemID                `json:"itemId"`
	BundleID          string                `json:"bundleId"`
	AddonID           string                `json:"addonId"`
	SiteID            string                `json:"siteId"`
	Amount            int64                 `json:"amount"`
	Currency          string                `json:"currency"`
	IsCrossSale       bool                  `json:"isCrossSale"`
	Selected          bool                  `json:"selected"`
	PermanentlyFailed bool                  `json:"permanentlyFailed"`
	Transactions      TransactionCollection `json:"transactions"`
}

type processJSON struct {
	SessionID     SessionID   `json:"sessionId"`
	State         State       `json:"state"`
	MainItem      itemJSON    `json:"mainItem"`
	CrossSales    []itemJSON  `json:"crossSaleItems"`
	Cascade       Cascade     `json:"cascade"`
	FraudAdvice   FraudAdvice `json:"fraudAdvice"`
	PaymentType   string      `json:"paymentType"`
	PaymentMethod string      `json:"paymentMethod"`
	Currency      string      `json:"currency"`
	CountryCode   string      `json:"countryCode"`
	RedirectURL   string      `json:"redirectUrl,omitempty"`
	MemberID      string      `json:"memberId,omitempty"`
	PurchaseID    string      `json:"purchaseId,omitempty"`
	DeclineReason string      `json:"declineReason,omitempty"`
	Authenticated bool        `json:"threeDAuthenticated"`
	Redirected    bool        `json:"redirected"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

func toItemJSON(it *InitializedItem) itemJSON {
	return itemJSON{
		ItemID:            it.ItemID,
		BundleID:          it.BundleID,
		AddonID:           it.AddonID,
		SiteID:            it.SiteID,
		Amount:            it.Amount,
		Currency:          it.Currency,
		IsCrossSale:       it.IsCrossSale,
		Selected:          it.Selected,
		PermanentlyFailed: it.PermanentlyFailed,
		Transactions:      it.Transactions,
	}
}

func fromItemJSON(j itemJSON) *InitializedItem {
	return &InitializedItem{
		ItemID:            j.ItemID,
		BundleID:          j.BundleID,
		AddonID:           j.AddonID,
		SiteID:            j.SiteID,
		Amount:            j.Amount,
		Currency:          j.Currency,
		IsCrossSale:       j.IsCrossSale,
		Selected:          j.Selected,
		PermanentlyFailed: j.PermanentlyFailed,
		Transactions:      j.Transactions,
	}
}

// MarshalJSON encodes the full aggregate for persistence.
func (p *Process) MarshalJSON() ([]byte, error) {
	out := processJSON{
		SessionID:     p.id,
		State:         p.state,
		MainItem:      toItemJSON(p.items[p.mainItemID]),
		Cascade:       p.cascade,
		FraudAdvice:   p.fraud,
		PaymentType:   p.paymentType,
		PaymentMethod: p.paymentMethod,
		Currency:      p.currency,
		CountryCode:   p.countryCode,
		RedirectURL:   p.redirectURL,
		MemberID:      p.memberID,
		PurchaseID:    p.purchaseID,
		DeclineReason: p.declineReason,
		Authenticated: p.authenticated,
		Redirected:    p.redirected,
		CreatedAt:     p.createdAt,
		UpdatedAt:     p.updatedAt,
	}
	for _, id := range p.crossSaleOrder {
		out.CrossSales = append(out.CrossSales, toItemJSON(p.items[id]))
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores an aggregate written by MarshalJSON.
func (p *Process) UnmarshalJSON(data []byte) error {
	var in processJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if _, ok := allowedTransitions[in.State]; !ok {
		return fmt.Errorf("purchase: unknown state %q", in.State)
	}
	if in.MainItem.ItemID == "" {
		return fmt.Errorf("purchase: session %s has no main item", in.SessionID)
	}
	*p = Process{
		id:            in.SessionID,
		state:         in.State,
		mainItemID:    in.MainItem.ItemID,
		items:         make(map[ItemID]*InitializedItem, len(in.CrossSales)+1),
		cascade:       in.Cascade,
		fraud:         in.FraudAdvice,
		paymentType:   in.PaymentType,
		paymentMethod: in.PaymentMethod,
		currency:      in.Currency,
		countryCode:   in.CountryCode,
		redirectURL:   in.RedirectURL,
		memberID:      in.MemberID,
		purchaseID:    in.PurchaseID,
		declineReason: in.DeclineReason,
		authenticated: in.Authenticated,
		redirected:    in.Redirected,
		createdAt:     in.CreatedAt,
		updatedAt:     in.UpdatedAt,
	}
	p.items[in.MainItem.ItemID] = fromItemJSON(in.MainItem)
	for _, cs := range in.CrossSales {
		p.items[cs.ItemID] = fromItemJSON(cs)
		p.crossSaleOrder = append(p.crossSaleOrder, cs.ItemID)
	}
	return nil
}

// Clone returns a deep copy of the aggregate.
func (p *Process) Clone() *Process {
	c := *p
	c.items = make(map[ItemID]*InitializedItem, len(p.items))
	for id, it := range p.items {
		c.items[id] = it.clone()
	}
	c.crossSaleOrder = append([]ItemID(nil), p.crossSaleOrder...)
	return &c
}
