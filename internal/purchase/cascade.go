package purchase

// Cascade is the ordered list of billers tried for one purchase. The order is
// fixed at creation and the cursor only moves forward.
type Cascade struct {
	billers []string
	cursor  int
}

// NewCascade copies billers into a fresh cascade positioned on the first entry.
func NewCascade(billers ...string) Cascade {
	b := make([]string, len(billers))
	copy(b, billers)
	return Cascade{billers: b}
}

// Current returns the biller under the cursor; ok is false once exhausted.
func (c Cascade) Current() (string, bool) {
	if c.Exhausted() {
		return "", false
	}
	return c.billers[c.cursor], true
}

// Advance moves the cursor to the next biller and reports whether one exists.
func (c *Cascade) Advance() bool {
	if c.cursor < len(c.billers) {
		c.cursor++
	}
	return !c.Exhausted()
}

// Exhausted reports that no biller is left to try.
func (c Cascade) Exhausted() bool {
	return c.cursor >= len(c.billers)
}

func (c Cascade) Cursor() int { return c.cursor }

// Remaining counts the billers after the current one.
func (c Cascade) Remaining() int {
	if c.Exhausted() {
		return 0
	}
	return len(c.billers) - c.cursor - 1
}

// Billers returns a copy of the configured order.
func (c Cascade) Billers() []string {
	out := make([]string, len(c.billers))
	copy(out, c.billers)
	return out
}

func (c Cascade) Len() int { return len(c.billers) }
