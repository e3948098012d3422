package purchase

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransactionState is the outcome of one biller attempt.
type TransactionState string

const (
	TransactionPending  TransactionState = "pending"
	TransactionApproved TransactionState = "approved"
	TransactionDeclined TransactionState = "declined"
	TransactionAborted  TransactionState = "aborted"
	TransactionError    TransactionState = "error"
)

// IsTerminal reports whether the attempt outcome is final.
func (s TransactionState) IsTerminal() bool {
	return s != TransactionPending
}

// hardDeclineCodes never recover on retry; the card is blacklisted when one is returned.
var hardDeclineCodes = map[string]struct{}{
	"stolen_card":     {},
	"lost_card":       {},
	"fraud_suspected": {},
	"invalid_card":    {},
	"pickup_card":     {},
}

// IsHardDeclineCode reports whether code classifies the card as unusable.
func IsHardDeclineCode(code string) bool {
	_, ok := hardDeclineCodes[code]
	return ok
}

// BinRouting is bank routing metadata resolved from a card BIN.
type BinRouting struct {
	Attempt     int    `json:"attempt"`
	RoutingCode string `json:"routingCode"`
	BankName    string `json:"bankName,omitempty"`
}

// BinRoutingCollection is the ordered list of routings to try for one card.
type BinRoutingCollection []BinRouting

// ThreeD holds the 3-D Secure artifacts returned by a biller.
type ThreeD struct {
	Version             int    `json:"version,omitempty"`
	ACS                 string `json:"acs,omitempty"`
	PaReq               string `json:"pareq,omitempty"`
	DeviceCollectionURL string `json:"deviceCollectionUrl,omitempty"`
	DeviceCollectionJWT string `json:"deviceCollectionJwt,omitempty"`
}

// StepUpURL returns where the client has to be sent to continue authentication.
func (t ThreeD) StepUpURL() string {
	if t.ACS != "" {
		return t.ACS
	}
	return t.DeviceCollectionURL
}

// Transaction is one biller-attempt record.
type Transaction struct {
	TransactionID        string            `json:"transactionId"`
	BillerName           string            `json:"billerName"`
	BillerTransactionID  string            `json:"billerTransactionId,omitempty"`
	State                TransactionState  `json:"state"`
	BillerFields         map[string]string `json:"billerFields,omitempty"`
	ThreeD               *ThreeD           `json:"threeD,omitempty"`
	BinRouting           *BinRouting       `json:"binRouting,omitempty"`
	SuccessfulBinRouting *BinRouting       `json:"successfulBinRouting,omitempty"`
	RedirectURL          string            `json:"redirectUrl,omitempty"`
	ErrorCode            string            `json:"errorCode,omitempty"`
	ErrorMessage         string            `json:"errorMessage,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}

// NewTransaction starts a pending attempt against billerName.
func NewTransaction(billerName string, now time.Time) Transaction {
	return Transaction{
		TransactionID: uuid.NewString(),
		BillerName:    billerName,
		State:         TransactionPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (t Transaction) IsApproved() bool { return t.State == TransactionApproved }
func (t Transaction) IsPending() bool  { return t.State == TransactionPending }
func (t Transaction) IsDeclined() bool { return t.State == TransactionDeclined }

// IsHardFailure reports a biller-side failure (not a soft decline).
func (t Transaction) IsHardFailure() bool { return t.State == TransactionError }

// IsHardDecline reports a decline whose code marks the card as unusable.
func (t Transaction) IsHardDecline() bool {
	return t.State == TransactionDeclined && IsHardDeclineCode(t.ErrorCode)
}

func (t Transaction) clone() Transaction {
	c := t
	if t.BillerFields != nil {
		c.BillerFields = make(map[string]string, len(t.BillerFields))
		for k, v := range t.BillerFields {
			c.BillerFields[k] = v
		}
	}
	if t.ThreeD != nil {
		td := *t.ThreeD
		c.ThreeD = &td
	}
	if t.BinRouting != nil {
		br := *t.BinRouting
		c.BinRouting = &br
	}
	if t.SuccessfulBinRouting != nil {
		br := *t.SuccessfulBinRouting
		c.SuccessfulBinRouting = &br
	}
	return c
}

// Resolution carries the biller outcome used to finalize a pending transaction.
type Resolution struct {
	State               TransactionState
	BillerTransactionID string
	ErrorCode           string
	ErrorMessage        string
	BillerFields        map[string]string
}

// TransactionCollection is the append-only attempt history of one item.
type TransactionCollection struct {
	items []Transaction
}

// Add appends an attempt. Ids are unique within the collection.
func (c *TransactionCollection) Add(tx Transaction) error {
	if tx.TransactionID == "" || tx.BillerName == "" {
		return NewError(KindValidation, "purchase.TransactionCollection.Add", "transaction id and biller name are required")
	}
	for _, existing := range c.items {
		if existing.TransactionID == tx.TransactionID {
			return NewError(KindValidation, "purchase.TransactionCollection.Add", fmt.Sprintf("duplicate transaction %s", tx.TransactionID))
		}
	}
	c.items = append(c.items, tx.clone())
	return nil
}

func (c TransactionCollection) Len() int { return len(c.items) }

// Last returns the most recent attempt.
func (c TransactionCollection) Last() (Transaction, bool) {
	if len(c.items) == 0 {
		return Transaction{}, false
	}
	return c.items[len(c.items)-1].clone(), true
}

// All returns a copy of every attempt in insertion order.
func (c TransactionCollection) All() []Transaction {
	out := make([]Transaction, len(c.items))
	for i, tx := range c.items {
		out[i] = tx.clone()
	}
	return out
}

// Find looks up an attempt by id.
func (c TransactionCollection) Find(id string) (Transaction, bool) {
	if i := c.index(id); i >= 0 {
		return c.items[i].clone(), true
	}
	return Transaction{}, false
}

func (c TransactionCollection) index(id string) int {
	for i := range c.items {
		if c.items[i].TransactionID == id {
			return i
		}
	}
	return -1
}

// Resolve moves a pending attempt to a terminal state.
func (c *TransactionCollection) Resolve(id string, res Resolution, now time.Time) error {
	i := c.index(id)
	if i < 0 {
		return NewError(KindNotFound, "purchase.TransactionCollection.Resolve", fmt.Sprintf("transaction %s not found", id))
	}
	tx := &c.items[i]
	if tx.State.IsTerminal() || !res.State.IsTerminal() {
		return NewError(KindIllegalStateTransition, "purchase.TransactionCollection.Resolve",
			fmt.Sprintf("transaction %s cannot move from %s to %s", id, tx.State, res.State))
	}
	tx.State = res.State
	if res.BillerTransactionID != "" {
		tx.BillerTransactionID = res.BillerTransactionID
	}
	tx.ErrorCode = res.ErrorCode
	tx.ErrorMessage = res.ErrorMessage
	for k, v := range res.BillerFields {
		if tx.BillerFields == nil {
			tx.BillerFields = make(map[string]string)
		}
		tx.BillerFields[k] = v
	}
	if tx.State == TransactionApproved && tx.BinRouting != nil {
		br := *tx.BinRouting
		tx.SuccessfulBinRouting = &br
	}
	tx.UpdatedAt = now
	return nil
}

// UpdateThreeD records step-up artifacts on an attempt that is still pending.
func (c *TransactionCollection) UpdateThreeD(id string, threeD ThreeD, now time.Time) error {
	i := c.index(id)
	if i < 0 {
		return NewError(KindNotFound, "purchase.TransactionCollection.UpdateThreeD", fmt.Sprintf("transaction %s not found", id))
	}
	tx := &c.items[i]
	if !tx.IsPending() {
		return NewError(KindIllegalStateTransition, "purchase.TransactionCollection.UpdateThreeD",
			fmt.Sprintf("transaction %s is %s", id, tx.State))
	}
	td := threeD
	tx.ThreeD = &td
	tx.RedirectURL = td.StepUpURL()
	tx.UpdatedAt = now
	return nil
}

// AbortPending aborts every attempt still pending and returns how many were touched.
func (c *TransactionCollection) AbortPending(now time.Time) int {
	n := 0
	for i := range c.items {
		if c.items[i].IsPending() {
			c.items[i].State = TransactionAborted
			c.items[i].UpdatedAt = now
			n++
		}
	}
	return n
}

// FirstSuccessfulBinRouting returns the routing of the first attempt that resolved one.
func (c TransactionCollection) FirstSuccessfulBinRouting() (BinRouting, bool) {
	for _, tx := range c.items {
		if tx.SuccessfulBinRouting != nil {
			return *tx.SuccessfulBinRouting, true
		}
	}
	return BinRouting{}, false
}

// HasApproved reports whether any attempt was approved.
func (c TransactionCollection) HasApproved() bool {
	for _, tx := range c.items {
		if tx.IsApproved() {
			return true
		}
	}
	return false
}
