// Package ledger keeps the authoritative positions and cash of one
// paper-trading session. A Ledger is not safe for concurrent use; the
// session orchestrator serializes access to it.
package ledger

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// qtyScale sets the finest quantity the ledger distinguishes (1e-9). Sums
// of lot-sized quantities are rounded to it so a full offset lands on zero.
const qtyScale = 1e9

// Ledger holds the open and closed positions, the trade log and the cash
// balance of a session.
type Ledger struct {
	sessionID   string
	initial     float64
	available   float64
	realized    float64
	commissions float64

	open      map[domain.PositionKey]*domain.Position
	closed    []domain.Position
	trades    []domain.Trade
	triggered map[string]domain.TriggerKind // position id -> last emitted trigger
	lastExec  time.Time

	newID func() string
}

// New creates an empty ledger funded with initialCapital.
func New(sessionID string, initialCapital float64) *Ledger {
	return &Ledger{
		sessionID: sessionID,
		initial:   initialCapital,
		available: initialCapital,
		open:      make(map[domain.PositionKey]*domain.Position),
		triggered: make(map[string]domain.TriggerKind),
		newID:     uuid.NewString,
	}
}

// Restore rebuilds a ledger from persisted positions and trades. Cash is
// derived from the trade log and the open cost basis, then reconciled.
func Restore(sessionID string, initialCapital float64, positions []domain.Position, trades []domain.Trade) (*Ledger, error) {
	l := New(sessionID, initialCapital)
	for _, t := range trades {
		l.realized += t.RealizedPnL
		l.commissions += t.Commission
		if t.ExecutedAt.After(l.lastExec) {
			l.lastExec = t.ExecutedAt
		}
	}
	l.trades = append(l.trades, trades...)

	invested := 0.0
	for _, p := range positions {
		switch p.Status {
		case domain.PositionStatusOpen:
			pos := p
			if _, dup := l.open[pos.Key()]; dup {
				return nil, fmt.Errorf("ledger: restore %s: %w: two open positions for %s/%s",
					sessionID, domain.ErrInvariantViolation, pos.Symbol, pos.Strategy)
			}
			l.open[pos.Key()] = &pos
			invested += pos.InvestedAmount
		case domain.PositionStatusClosed:
			l.closed = append(l.closed, p)
		}
	}
	slices.SortFunc(l.closed, func(a, b domain.Position) int {
		return closedAt(a).Compare(closedAt(b))
	})
	l.available = l.initial + l.realized - l.commissions - invested

	if err := l.Reconcile(); err != nil {
		return nil, err
	}
	return l, nil
}

// SetIDGenerator replaces the id generator, for deterministic tests.
func (l *Ledger) SetIDGenerator(f func() string) { l.newID = f }

// SessionID returns the id of the session the ledger belongs to.
func (l *Ledger) SessionID() string { return l.sessionID }

// Available returns the uncommitted cash.
func (l *Ledger) Available() float64 { return l.available }

// Clone returns an independent deep copy. The orchestrator applies fills to
// a clone and swaps it in only after persistence succeeds.
func (l *Ledger) Clone() *Ledger {
	c := *l
	c.open = make(map[domain.PositionKey]*domain.Position, len(l.open))
	for k, p := range l.open {
		pos := *p
		c.open[k] = &pos
	}
	c.closed = slices.Clone(l.closed)
	c.trades = slices.Clone(l.trades)
	c.triggered = make(map[string]domain.TriggerKind, len(l.triggered))
	for k, v := range l.triggered {
		c.triggered[k] = v
	}
	return &c
}

// cleanQty rounds away float residue so offsetting lots sum to zero.
func cleanQty(q float64) float64 {
	return math.Round(q*qtyScale) / qtyScale
}

// CashRequired reports how much available cash applying fill would consume.
// A negative value means the fill releases cash.
func (l *Ledger) CashRequired(fill domain.Fill) float64 {
	signed := fill.SignedQuantity()
	pos := l.open[domain.PositionKey{Symbol: fill.Symbol, Strategy: fill.Strategy}]
	if pos == nil || pos.Quantity*signed > 0 {
		return fill.DollarAmount + fill.Commission
	}
	newQty := cleanQty(pos.Quantity + signed)
	closing := math.Min(fill.Quantity, math.Abs(pos.Quantity))
	released := closing*pos.AveragePrice + (fill.FillPrice-pos.AveragePrice)*closing*sign(pos.Quantity)
	opening := 0.0
	if newQty != 0 && sign(newQty) != sign(pos.Quantity) {
		opening = math.Abs(newQty) * fill.FillPrice
	}
	return opening - released + fill.Commission
}

// ApplyFill merges fill into the position for its (symbol, strategy) and
// moves cash accordingly. On error the ledger is unchanged.
func (l *Ledger) ApplyFill(fill domain.Fill) (domain.PositionUpdate, error) {
	return l.ApplySignalFill("", fill)
}

// ApplySignalFill is ApplyFill for a fill that executed signal signalID; the
// id is carried on the recorded trade.
func (l *Ledger) ApplySignalFill(signalID string, fill domain.Fill) (domain.PositionUpdate, error) {
	if err := l.checkFill(fill); err != nil {
		return domain.PositionUpdate{}, err
	}
	if need := l.CashRequired(fill); need > 0 && need > l.available+tolerance(l.initial) {
		return domain.PositionUpdate{}, fmt.Errorf("ledger: %s %s needs %.2f, %.2f available: %w",
			fill.Direction, fill.Symbol, need, l.available, domain.ErrInsufficientCapital)
	}

	key := domain.PositionKey{Symbol: fill.Symbol, Strategy: fill.Strategy}
	signed := fill.SignedQuantity()
	at := fill.ExecutedAt
	trade := domain.Trade{
		ID:        l.newID(),
		SessionID: l.sessionID,
		SignalID:  signalID,
		Fill:      fill,
	}

	var upd domain.PositionUpdate
	pos := l.open[key]
	switch {
	case pos == nil:
		p := l.openPosition(fill, signed, at)
		upd.Action = domain.PositionOpened
		upd.Positions = []domain.Position{*p}
		trade.PositionID = p.ID

	case pos.Quantity*signed > 0:
		newQty := cleanQty(pos.Quantity + signed)
		pos.AveragePrice = math.Abs(pos.Quantity*pos.AveragePrice+signed*fill.FillPrice) / math.Abs(newQty)
		pos.Quantity = newQty
		pos.InvestedAmount = math.Abs(newQty) * pos.AveragePrice
		pos.EntryValue += fill.DollarAmount
		pos.StopLoss, pos.TakeProfit = fill.StopLoss, fill.TakeProfit
		l.remark(pos, fill.FillPrice, at)
		l.available -= fill.DollarAmount + fill.Commission
		upd.Action = domain.PositionIncreased
		upd.Positions = []domain.Position{*pos}
		trade.PositionID = pos.ID

	default:
		newQty := cleanQty(pos.Quantity + signed)
		trade.PositionID = pos.ID
		switch {
		case newQty == 0:
			realized := l.closePosition(key, pos, fill.FillPrice, at)
			l.available -= fill.Commission
			upd.Action = domain.PositionClosed
			upd.Positions = []domain.Position{l.closed[len(l.closed)-1]}
			trade.RealizedPnL = realized

		case sign(newQty) == sign(pos.Quantity):
			closing := -signed // carries the sign of the position
			realized := (fill.FillPrice - pos.AveragePrice) * closing
			released := math.Abs(closing) * pos.AveragePrice
			pos.Quantity = newQty
			pos.InvestedAmount = math.Abs(newQty) * pos.AveragePrice
			pos.RealizedPnL += realized
			l.realized += realized
			l.remark(pos, fill.FillPrice, at)
			l.available += released + realized - fill.Commission
			upd.Action = domain.PositionReduced
			upd.Positions = []domain.Position{*pos}
			trade.RealizedPnL = realized

		default:
			// The fill crosses zero: flatten, then open the remainder the other way.
			closeShare := math.Abs(pos.Quantity) / fill.Quantity
			realized := l.closePosition(key, pos, fill.FillPrice, at)
			closedPos := l.closed[len(l.closed)-1]

			rest := fill
			rest.Quantity = math.Abs(newQty)
			rest.DollarAmount = rest.Quantity * fill.FillPrice
			rest.Commission = fill.Commission * (1 - closeShare)
			p := l.openPosition(rest, newQty, at)
			l.available -= fill.Commission * closeShare

			upd.Action = domain.PositionFlipped
			upd.Positions = []domain.Position{closedPos, *p}
			trade.RealizedPnL = realized
		}
	}

	l.commissions += fill.Commission
	l.lastExec = at
	l.trades = append(l.trades, trade)

	upd.Trade = trade
	upd.RealizedPnL = trade.RealizedPnL
	upd.Available = l.available
	return upd, nil
}

func (l *Ledger) checkFill(fill domain.Fill) error {
	switch {
	case !(fill.Quantity > 0):
		return fmt.Errorf("ledger: fill %s %s: %w: quantity %v", fill.Symbol, fill.Strategy, domain.ErrInvariantViolation, fill.Quantity)
	case !(fill.FillPrice > 0):
		return fmt.Errorf("ledger: fill %s %s: %w: price %v", fill.Symbol, fill.Strategy, domain.ErrInvariantViolation, fill.FillPrice)
	case fill.Commission < 0:
		return fmt.Errorf("ledger: fill %s %s: %w: negative commission", fill.Symbol, fill.Strategy, domain.ErrInvariantViolation)
	case fill.ExecutedAt.Before(l.lastExec):
		return fmt.Errorf("ledger: fill %s %s at %s precedes last fill at %s: %w",
			fill.Symbol, fill.Strategy, fill.ExecutedAt.Format(time.RFC3339Nano), l.lastExec.Format(time.RFC3339Nano), domain.ErrInvariantViolation)
	}
	return nil
}

// openPosition creates a position from fill with the given signed quantity
// and debits its notional plus commission.
func (l *Ledger) openPosition(fill domain.Fill, signedQty float64, at time.Time) *domain.Position {
	p := &domain.Position{
		ID:             l.newID(),
		SessionID:      l.sessionID,
		Symbol:         fill.Symbol,
		Strategy:       fill.Strategy,
		AssetClass:     fill.AssetClass,
		Quantity:       cleanQty(signedQty),
		AveragePrice:   fill.FillPrice,
		InvestedAmount: math.Abs(signedQty) * fill.FillPrice,
		EntryValue:     fill.DollarAmount,
		StopLoss:       fill.StopLoss,
		TakeProfit:     fill.TakeProfit,
		Status:         domain.PositionStatusOpen,
		OpenedAt:       at,
	}
	l.remark(p, fill.FillPrice, at)
	l.open[p.Key()] = p
	l.available -= fill.DollarAmount + fill.Commission
	return p
}

// closePosition flattens pos at price, credits its basis and P&L and moves
// it to the closed list. Commission is the caller's concern.
func (l *Ledger) closePosition(key domain.PositionKey, pos *domain.Position, price float64, at time.Time) float64 {
	realized := pos.PnLAt(price)
	l.available += pos.InvestedAmount + realized
	l.realized += realized

	ts := at
	pos.RealizedPnL += realized
	pos.ClosedQuantity = pos.Quantity
	pos.ExitPrice = price
	pos.CurrentPrice = price
	pos.Quantity = 0
	pos.InvestedAmount = 0
	pos.CurrentValue = 0
	pos.UnrealizedPnL = 0
	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = &ts
	pos.UpdatedAt = at

	delete(l.open, key)
	delete(l.triggered, pos.ID)
	l.closed = append(l.closed, *pos)
	return realized
}

func (l *Ledger) remark(p *domain.Position, price float64, at time.Time) {
	p.CurrentPrice = price
	p.CurrentValue = math.Abs(p.Quantity) * price
	p.UnrealizedPnL = p.PnLAt(price)
	p.UpdatedAt = at
}

// MarkToMarket revalues every open position in symbol at price and returns
// the stop-loss and take-profit levels newly crossed. A level emits once per
// crossing; it re-arms when the price moves back inside the band. Positions
// are never closed here. Unknown symbols are a no-op.
func (l *Ledger) MarkToMarket(symbol string, price float64, at time.Time) []domain.Trigger {
	if !(price > 0) {
		return nil
	}
	var triggers []domain.Trigger
	for _, p := range l.sortedOpen() {
		if p.Symbol != symbol {
			continue
		}
		l.remark(p, price, at)

		kind, hit := crossed(p, price)
		prev, had := l.triggered[p.ID]
		switch {
		case !hit:
			delete(l.triggered, p.ID)
		case !had || prev != kind:
			l.triggered[p.ID] = kind
			level := p.StopLoss
			if kind == domain.TriggerTakeProfit {
				level = p.TakeProfit
			}
			triggers = append(triggers, domain.Trigger{
				ID:         l.newID(),
				SessionID:  l.sessionID,
				PositionID: p.ID,
				Symbol:     p.Symbol,
				Strategy:   p.Strategy,
				Kind:       kind,
				Level:      level,
				Price:      price,
				Quantity:   p.Quantity,
				At:         at,
			})
		}
	}
	return triggers
}

func crossed(p *domain.Position, price float64) (domain.TriggerKind, bool) {
	if p.Quantity > 0 {
		if p.StopLoss > 0 && price <= p.StopLoss {
			return domain.TriggerStopLoss, true
		}
		if p.TakeProfit > 0 && price >= p.TakeProfit {
			return domain.TriggerTakeProfit, true
		}
		return "", false
	}
	if p.StopLoss > 0 && price >= p.StopLoss {
		return domain.TriggerStopLoss, true
	}
	if p.TakeProfit > 0 && price <= p.TakeProfit {
		return domain.TriggerTakeProfit, true
	}
	return "", false
}

func (l *Ledger) sortedOpen() []*domain.Position {
	out := make([]*domain.Position, 0, len(l.open))
	for _, p := range l.open {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *domain.Position) int {
		if c := a.OpenedAt.Compare(b.OpenedAt); c != 0 {
			return c
		}
		if c := strings.Compare(a.Symbol, b.Symbol); c != 0 {
			return c
		}
		return strings.Compare(string(a.Strategy), string(b.Strategy))
	})
	return out
}

// OpenPositions returns copies of the open positions in opening order.
func (l *Ledger) OpenPositions() []domain.Position {
	sorted := l.sortedOpen()
	out := make([]domain.Position, len(sorted))
	for i, p := range sorted {
		out[i] = *p
	}
	return out
}

// OpenPosition returns the open position for key, if any.
func (l *Ledger) OpenPosition(key domain.PositionKey) (domain.Position, bool) {
	p, ok := l.open[key]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// ClosedPositions returns the closed positions in closing order.
func (l *Ledger) ClosedPositions() []domain.Position {
	return slices.Clone(l.closed)
}

// Positions returns closed then open positions.
func (l *Ledger) Positions() []domain.Position {
	return append(l.ClosedPositions(), l.OpenPositions()...)
}

// Trades returns the trade log in execution order.
func (l *Ledger) Trades() []domain.Trade {
	return slices.Clone(l.trades)
}

// Symbols returns the distinct symbols with open positions.
func (l *Ledger) Symbols() []string {
	seen := make(map[string]bool, len(l.open))
	var out []string
	for k := range l.open {
		if !seen[k.Symbol] {
			seen[k.Symbol] = true
			out = append(out, k.Symbol)
		}
	}
	slices.Sort(out)
	return out
}

// Totals rolls up the session.
func (l *Ledger) Totals() domain.SessionTotals {
	t := domain.SessionTotals{
		InitialCapital:   l.initial,
		AvailableCapital: l.available,
		CurrentCapital:   l.initial + l.realized - l.commissions,
		RealizedPnL:      l.realized,
		Commissions:      l.commissions,
		OpenPositions:    len(l.open),
		ClosedPositions:  len(l.closed),
		Trades:           len(l.trades),
	}
	for _, p := range l.open {
		t.InvestedAmount += p.InvestedAmount
		t.CurrentValue += p.CurrentValue
		t.UnrealizedPnL += p.UnrealizedPnL
	}
	t.Equity = t.CurrentCapital + t.UnrealizedPnL
	t.TotalReturn = t.Equity - l.initial
	if l.initial > 0 {
		t.TotalReturnPct = t.TotalReturn / l.initial * 100
	}
	return t
}

// PnLSince returns the P&L realized and the commissions paid by fills
// executed at or after since.
func (l *Ledger) PnLSince(since time.Time) (realized, commissions float64) {
	for i := len(l.trades) - 1; i >= 0; i-- {
		t := l.trades[i]
		if t.ExecutedAt.Before(since) {
			break
		}
		realized += t.RealizedPnL
		commissions += t.Commission
	}
	return realized, commissions
}

// Reconcile verifies the accounting invariants: every open position has a
// non-zero quantity and invested == |quantity| × average, cash is not
// negative, realized P&L matches the positions, and
// available + Σ invested == initial + realized − commissions.
func (l *Ledger) Reconcile() error {
	tol := tolerance(l.initial)
	invested := 0.0
	realized := 0.0
	for _, p := range l.open {
		if p.Quantity == 0 {
			return fmt.Errorf("ledger: %w: open position %s has zero quantity", domain.ErrInvariantViolation, p.ID)
		}
		if want := math.Abs(p.Quantity) * p.AveragePrice; math.Abs(p.InvestedAmount-want) > tol {
			return fmt.Errorf("ledger: %w: position %s invested %.6f, |qty|×avg %.6f", domain.ErrInvariantViolation, p.ID, p.InvestedAmount, want)
		}
		invested += p.InvestedAmount
		realized += p.RealizedPnL
	}
	for _, p := range l.closed {
		if p.Quantity != 0 || p.InvestedAmount != 0 {
			return fmt.Errorf("ledger: %w: closed position %s still holds %v", domain.ErrInvariantViolation, p.ID, p.Quantity)
		}
		realized += p.RealizedPnL
	}
	if l.available < -tol {
		return fmt.Errorf("ledger: %w: available capital %.6f is negative", domain.ErrInvariantViolation, l.available)
	}
	if math.Abs(realized-l.realized) > tol {
		return fmt.Errorf("ledger: %w: positions realized %.6f, ledger %.6f", domain.ErrInvariantViolation, realized, l.realized)
	}
	lhs := l.available + invested
	rhs := l.initial + l.realized - l.commissions
	if math.Abs(lhs-rhs) > tol {
		return fmt.Errorf("ledger: %w: available %.6f + invested %.6f != initial %.2f + realized %.6f - commissions %.6f (diff %.6g)",
			domain.ErrInvariantViolation, l.available, invested, l.initial, l.realized, l.commissions, lhs-rhs)
	}
	return nil
}

// tolerance scales the reconciliation epsilon with the account size.
func tolerance(capital float64) float64 {
	return 1e-6 * math.Max(1, math.Abs(capital))
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

func closedAt(p domain.Position) time.Time {
	if p.ClosedAt == nil {
		return time.Time{}
	}
	return *p.ClosedAt
}
