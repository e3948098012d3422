package purchase

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewProcessParams describes a purchase at initiation time.
type NewProcessParams struct {
	SessionID     SessionID
	MainItem      Item
	CrossSales    []Item
	PaymentType   string
	PaymentMethod string
	Currency      string
	CountryCode   string
	MemberID      string
	Cascade       Cascade
	FraudAdvice   FraudAdvice
	Now           time.Time
}

// Process is the purchase aggregate. Items are owned by the process and
// addressed by ItemID; callers get copies, never live references.
type Process struct {
	id             SessionID
	state          State
	mainItemID     ItemID
	items          map[ItemID]*InitializedItem
	crossSaleOrder []ItemID
	cascade        Cascade
	fraud          FraudAdvice
	paymentType    string
	paymentMethod  string
	currency       string
	countryCode    string
	redirectURL    string
	memberID       string
	purchaseID     string
	declineReason  string
	authenticated  bool
	redirected     bool
	createdAt      time.Time
	updatedAt      time.Time
	version        int64
}

// NewProcess builds a Valid process. Cross-sales have to reference distinct sites.
func NewProcess(p NewProcessParams) (*Process, error) {
	const op = "purchase.NewProcess"
	if p.MainItem.SiteID == "" || p.MainItem.BundleID == "" {
		return nil, NewError(KindValidation, op, "main item requires site and bundle")
	}
	if p.Cascade.Len() == 0 {
		return nil, NewError(KindValidation, op, "cascade must contain at least one biller")
	}
	id := p.SessionID
	if id == "" {
		id = NewSessionID()
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	proc := &Process{
		id:            id,
		state:         StateValid,
		items:         make(map[ItemID]*InitializedItem, len(p.CrossSales)+1),
		cascade:       p.Cascade,
		fraud:         p.FraudAdvice,
		paymentType:   p.PaymentType,
		paymentMethod: p.PaymentMethod,
		currency:      p.Currency,
		countryCode:   p.CountryCode,
		memberID:      p.MemberID,
		createdAt:     now,
		updatedAt:     now,
	}

	main := p.MainItem
	if main.ItemID == "" {
		main.ItemID = ItemID(uuid.NewString())
	}
	proc.mainItemID = main.ItemID
	proc.items[main.ItemID] = newInitializedItem(main, false)

	sites := make(map[string]struct{}, len(p.CrossSales))
	for _, cs := range p.CrossSales {
		if cs.SiteID == "" || cs.BundleID == "" {
			return nil, NewError(KindValidation, op, "cross-sale requires site and bundle")
		}
		if _, dup := sites[cs.SiteID]; dup {
			return nil, NewError(KindValidation, op, fmt.Sprintf("duplicate cross-sale site %s", cs.SiteID))
		}
		sites[cs.SiteID] = struct{}{}
		if cs.ItemID == "" {
			cs.ItemID = ItemID(uuid.NewString())
		}
		if _, dup := proc.items[cs.ItemID]; dup {
			return nil, NewError(KindValidation, op, fmt.Sprintf("duplicate item id %s", cs.ItemID))
		}
		proc.items[cs.ItemID] = newInitializedItem(cs, true)
		proc.crossSaleOrder = append(proc.crossSaleOrder, cs.ItemID)
	}
	return proc, nil
}

func (p *Process) ID() SessionID             { return p.id }
func (p *Process) State() State              { return p.state }
func (p *Process) Cascade() Cascade          { return p.cascade }
func (p *Process) FraudAdvice() FraudAdvice  { return p.fraud }
func (p *Process) PaymentType() string       { return p.paymentType }
func (p *Process) PaymentMethod() string     { return p.paymentMethod }
func (p *Process) Currency() string          { return p.currency }
func (p *Process) CountryCode() string       { return p.countryCode }
func (p *Process) RedirectURL() string       { return p.redirectURL }
func (p *Process) MemberID() string          { return p.memberID }
func (p *Process) PurchaseID() string        { return p.purchaseID }
func (p *Process) DeclineReason() string     { return p.declineReason }
func (p *Process) ThreeDAuthenticated() bool { return p.authenticated }
func (p *Process) Redirected() bool          { return p.redirected }
func (p *Process) CreatedAt() time.Time      { return p.createdAt }
func (p *Process) UpdatedAt() time.Time      { return p.updatedAt }
func (p *Process) MainItemID() ItemID        { return p.mainItemID }

// Version is the stored revision this copy was loaded at. Zero means the
// process has never been persisted.
func (p *Process) Version() int64 { return p.version }

// SetVersion is called by repositories after a successful write.
func (p *Process) SetVersion(v int64) { p.version = v }

// MainItem returns a copy of the main item.
func (p *Process) MainItem() InitializedItem {
	return *p.items[p.mainItemID].clone()
}

// CrossSaleItems returns copies of the cross-sale items in creation order.
func (p *Process) CrossSaleItems() []InitializedItem {
	out := make([]InitializedItem, 0, len(p.crossSaleOrder))
	for _, id := range p.crossSaleOrder {
		out = append(out, *p.items[id].clone())
	}
	return out
}

// SelectedCrossSales returns the ids of cross-sales the customer opted into.
func (p *Process) SelectedCrossSales() []ItemID {
	var out []ItemID
	for _, id := range p.crossSaleOrder {
		if p.items[id].Selected {
			out = append(out, id)
		}
	}
	return out
}

// Item returns a copy of the item with the given id.
func (p *Process) Item(id ItemID) (InitializedItem, bool) {
	it, ok := p.items[id]
	if !ok {
		return InitializedItem{}, false
	}
	return *it.clone(), true
}

func (p *Process) item(op string, id ItemID) (*InitializedItem, error) {
	it, ok := p.items[id]
	if !ok {
		return nil, NewError(KindNotFound, op, fmt.Sprintf("item %s not found", id))
	}
	return it, nil
}

func (p *Process) transition(to State) error {
	if !CanTransition(p.state, to) {
		return ErrIllegalStateTransition(p.state, to)
	}
	p.state = to
	p.touch()
	return nil
}

func (p *Process) touch() { p.updatedAt = time.Now().UTC() }

// Validate fails when the session is not Valid or fraud advice blocks it.
func (p *Process) Validate() error {
	const op = "purchase.Process.Validate"
	if p.state != StateValid {
		return NewError(KindValidation, op, fmt.Sprintf("session is %s", p.state))
	}
	if p.fraud.Blacklisted() {
		return NewError(KindValidation, op, "session blocked by fraud advice")
	}
	return nil
}

// StartProcessing moves Valid or Pending to Processing.
func (p *Process) StartProcessing() error {
	return p.transition(StateProcessing)
}

// MarkPending parks the session until the client returns. redirectURL is
// empty for captcha challenges and set for 3-D Secure step-ups.
func (p *Process) MarkPending(redirectURL string) error {
	if err := p.transition(StatePending); err != nil {
		return err
	}
	p.redirectURL = redirectURL
	p.authenticated = false
	return nil
}

// SetPendingRedirect replaces the step-up URL of a Pending session, e.g. when a
// device-collection step is followed by an ACS challenge.
func (p *Process) SetPendingRedirect(redirectURL string) error {
	if p.state != StatePending {
		return ErrIllegalStateTransition(p.state, StatePending)
	}
	if redirectURL == "" {
		return ErrMissingRedirectURL(p.id)
	}
	p.redirectURL = redirectURL
	p.touch()
	return nil
}

// Redirect resumes a Pending session after the client came back.
func (p *Process) Redirect() error {
	if p.state != StatePending {
		return ErrIllegalStateTransition(p.state, StateProcessing)
	}
	if err := p.transition(StateProcessing); err != nil {
		return err
	}
	p.redirected = true
	return nil
}

// FinishProcessing resolves a Processing session from its main item outcome.
func (p *Process) FinishProcessing() error {
	if p.state != StateProcessing {
		return ErrIllegalStateTransition(p.state, StateProcessed)
	}
	main := p.items[p.mainItemID]
	switch {
	case main.WasSuccessful():
		return p.transition(StateProcessed)
	case main.WasAborted():
		return p.transition(StateAborted)
	default:
		if p.declineReason == "" {
			if tx, ok := main.LastTransaction(); ok && tx.ErrorCode != "" {
				p.declineReason = tx.ErrorCode
			} else if p.cascade.Exhausted() {
				p.declineReason = "cascade_exhausted"
			}
		}
		return p.transition(StateDeclined)
	}
}

// Decline terminates the session without a charge.
func (p *Process) Decline(reason string) error {
	if err := p.transition(StateDeclined); err != nil {
		return err
	}
	p.declineReason = reason
	p.abortPending()
	return nil
}

// Abort terminates the session and aborts every pending attempt.
func (p *Process) Abort() error {
	if err := p.transition(StateAborted); err != nil {
		return err
	}
	p.abortPending()
	return nil
}

// AbortPendingTransactions aborts attempts still waiting on the client.
func (p *Process) AbortPendingTransactions() int {
	n := p.abortPending()
	if n > 0 {
		p.touch()
	}
	return n
}

func (p *Process) abortPending() int {
	now := time.Now().UTC()
	n := 0
	for _, it := range p.items {
		n += it.Transactions.AbortPending(now)
	}
	return n
}

// AuthenticateThreeD marks the pending step-up as authenticated. It succeeds
// once per pending episode; a repeat call fails with SessionAlreadyProcessed.
func (p *Process) AuthenticateThreeD() error {
	if p.redirectURL == "" {
		return ErrMissingRedirectURL(p.id)
	}
	if p.state != StatePending || p.authenticated {
		return ErrSessionAlreadyProcessed(p.id, p.redirectURL)
	}
	p.authenticated = true
	p.touch()
	return nil
}

// ValidateInitCaptcha records a passed init captcha.
func (p *Process) ValidateInitCaptcha() error {
	if !p.fraud.Init.CaptchaAdvised {
		return NewError(KindValidation, "purchase.Process.ValidateInitCaptcha", "init captcha was not requested")
	}
	p.fraud.InitCaptchaValidated = true
	p.touch()
	return nil
}

// ValidateProcessCaptcha records a passed process captcha. It requires an
// Init captcha requirement and Process advice that asked for captcha.
func (p *Process) ValidateProcessCaptcha() error {
	const op = "purchase.Process.ValidateProcessCaptcha"
	if !p.fraud.Init.CaptchaAdvised {
		return NewError(KindValidation, op, "process captcha requires a prior init captcha requirement")
	}
	if !p.fraud.ProcessComputed || !p.fraud.Process.CaptchaAdvised {
		return NewError(KindValidation, op, "process captcha was not requested")
	}
	p.fraud.ProcessCaptchaValidated = true
	p.touch()
	return nil
}

// UpdateFraudAdvice layers signals for phase onto the current advice.
func (p *Process) UpdateFraudAdvice(phase Phase, s Signals) error {
	switch phase {
	case PhaseInit:
		p.fraud = p.fraud.WithInit(s)
	case PhaseProcess:
		next, err := p.fraud.WithProcess(s)
		if err != nil {
			return err
		}
		p.fraud = next
	default:
		return NewError(KindValidation, "purchase.Process.UpdateFraudAdvice", fmt.Sprintf("unknown phase %q", phase))
	}
	p.touch()
	return nil
}

// SelectCrossSales opts the customer into exactly the given cross-sales.
func (p *Process) SelectCrossSales(ids ...ItemID) error {
	const op = "purchase.Process.SelectCrossSales"
	selected := make(map[ItemID]bool, len(ids))
	for _, id := range ids {
		it, err := p.item(op, id)
		if err != nil {
			return err
		}
		if !it.IsCrossSale {
			return NewError(KindValidation, op, fmt.Sprintf("item %s is not a cross-sale", id))
		}
		selected[id] = true
	}
	for _, id := range p.crossSaleOrder {
		p.items[id].Selected = selected[id]
	}
	p.touch()
	return nil
}

// CurrentBiller returns the biller under the cascade cursor.
func (p *Process) CurrentBiller() (string, bool) {
	return p.cascade.Current()
}

// AdvanceCascade moves to the next biller and reports whether one is left.
func (p *Process) AdvanceCascade() bool {
	ok := p.cascade.Advance()
	p.touch()
	return ok
}

// AddTransaction records a new attempt on an item. Attempts only start while Processing.
func (p *Process) AddTransaction(id ItemID, tx Transaction) error {
	const op = "purchase.Process.AddTransaction"
	if p.state != StateProcessing {
		return NewError(KindIllegalStateTransition, op, fmt.Sprintf("cannot attempt a charge while %s", p.state))
	}
	it, err := p.item(op, id)
	if err != nil {
		return err
	}
	if err := it.Transactions.Add(tx); err != nil {
		return err
	}
	p.touch()
	return nil
}

// ResolveTransaction finalizes a pending attempt.
func (p *Process) ResolveTransaction(id ItemID, txID string, res Resolution) error {
	it, err := p.item("purchase.Process.ResolveTransaction", id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := it.Transactions.Resolve(txID, res, now); err != nil {
		return err
	}
	p.updatedAt = now
	return nil
}

// UpdateThreeD stores step-up artifacts on a pending attempt.
func (p *Process) UpdateThreeD(id ItemID, txID string, td ThreeD) error {
	it, err := p.item("purchase.Process.UpdateThreeD", id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := it.Transactions.UpdateThreeD(txID, td, now); err != nil {
		return err
	}
	p.updatedAt = now
	return nil
}

// MarkItemPermanentlyFailed flags an item whose cascade ran out.
func (p *Process) MarkItemPermanentlyFailed(id ItemID) error {
	it, err := p.item("purchase.Process.MarkItemPermanentlyFailed", id)
	if err != nil {
		return err
	}
	it.PermanentlyFailed = true
	p.touch()
	return nil
}

// MainBinRouting returns the routing of the first main-item attempt that resolved one.
func (p *Process) MainBinRouting() (BinRouting, bool) {
	return p.items[p.mainItemID].Transactions.FirstSuccessfulBinRouting()
}

// PendingThreeD returns the main-item attempt waiting on 3-D Secure, if any.
func (p *Process) PendingThreeD() (Transaction, bool) {
	tx, ok := p.items[p.mainItemID].LastTransaction()
	if !ok || !tx.IsPending() || tx.ThreeD == nil {
		return Transaction{}, false
	}
	return tx, true
}

func (p *Process) SetMemberID(id string)   { p.memberID = id; p.touch() }
func (p *Process) SetPurchaseID(id string) { p.purchaseID = id; p.touch() }

// Views returns the read views of the main item followed by the cross-sales.
func (p *Process) Views() []ProcessedBundleItem {
	out := []ProcessedBundleItem{p.items[p.mainItemID].View()}
	for _, id := range p.crossSaleOrder {
		out = append(out, p.items[id].View())
	}
	return out
}
