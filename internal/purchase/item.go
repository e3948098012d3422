package purchase

import "time"

// ItemID addresses an item inside its Process.
type ItemID string

// Item is the input used to create an InitializedItem.
type Item struct {
	ItemID   ItemID
	BundleID string
	AddonID  string
	SiteID   string
	Amount   int64
	Currency string
}

// InitializedItem is one purchasable line (main product or a cross-sale).
type InitializedItem struct {
	ItemID            ItemID
	BundleID          string
	AddonID           string
	SiteID            string
	Amount            int64
	Currency          string
	IsCrossSale       bool
	Selected          bool
	PermanentlyFailed bool
	Transactions      TransactionCollection
}

func newInitializedItem(in Item, crossSale bool) *InitializedItem {
	return &InitializedItem{
		ItemID:      in.ItemID,
		BundleID:    in.BundleID,
		AddonID:     in.AddonID,
		SiteID:      in.SiteID,
		Amount:      in.Amount,
		Currency:    in.Currency,
		IsCrossSale: crossSale,
		Selected:    !crossSale,
	}
}

// LastTransaction returns the most recent attempt.
func (i InitializedItem) LastTransaction() (Transaction, bool) {
	return i.Transactions.Last()
}

// WasSuccessful reports whether the last attempt was approved.
func (i InitializedItem) WasSuccessful() bool {
	tx, ok := i.Transactions.Last()
	return ok && tx.IsApproved()
}

// IsPending reports whether the last attempt still waits on the biller or the client.
func (i InitializedItem) IsPending() bool {
	tx, ok := i.Transactions.Last()
	return ok && tx.IsPending()
}

// WasAborted reports whether the last attempt was aborted.
func (i InitializedItem) WasAborted() bool {
	tx, ok := i.Transactions.Last()
	return ok && tx.State == TransactionAborted
}

// HasFailed reports whether the item ended without approval.
func (i InitializedItem) HasFailed() bool {
	if i.PermanentlyFailed {
		return true
	}
	tx, ok := i.Transactions.Last()
	return ok && tx.State.IsTerminal() && !tx.IsApproved()
}

// ProcessedBundleItem is the read view of an item returned to callers.
type ProcessedBundleItem struct {
	ItemID        ItemID           `json:"itemId"`
	BundleID      string           `json:"bundleId"`
	AddonID       string           `json:"addonId"`
	SiteID        string           `json:"siteId"`
	IsCrossSale   bool             `json:"isCrossSale"`
	Success       bool             `json:"success"`
	TransactionID string           `json:"transactionId,omitempty"`
	BillerName    string           `json:"billerName,omitempty"`
	State         TransactionState `json:"state,omitempty"`
	ErrorCode     string           `json:"errorCode,omitempty"`
	Attempts      int              `json:"attempts"`
	UpdatedAt     time.Time        `json:"updatedAt,omitempty"`
}

// View builds the read view from the current attempt history.
func (i InitializedItem) View() ProcessedBundleItem {
	v := ProcessedBundleItem{
		ItemID:      i.ItemID,
		BundleID:    i.BundleID,
		AddonID:     i.AddonID,
		SiteID:      i.SiteID,
		IsCrossSale: i.IsCrossSale,
		Success:     i.WasSuccessful(),
		Attempts:    i.Transactions.Len(),
	}
	if tx, ok := i.Transactions.Last(); ok {
		v.TransactionID = tx.TransactionID
		v.BillerName = tx.BillerName
		v.State = tx.State
		v.ErrorCode = tx.ErrorCode
		v.UpdatedAt = tx.UpdatedAt
	}
	return v
}

func (i *InitializedItem) clone() *InitializedItem {
	c := *i
	c.Transactions = TransactionCollection{items: i.Transactions.All()}
	return &c
}
