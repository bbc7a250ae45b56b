// Package service holds the session orchestrator: it owns the lifecycle of
// paper-trading sessions, applies pre-trade risk limits and wires the
// execution simulator, the portfolio ledger and the performance analyzer
// together.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/execution"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/ledger"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/notify"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/performance"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/telemetry"
)

// SessionConfig tunes the orchestrator.
type SessionConfig struct {
	// Defaults fill the zero fields of a start request.
	Defaults          domain.SessionConfig
	Location          *time.Location
	AnnualizationDays int
	SnapshotWindow    int
	LockTTL           time.Duration
	ArchiveOnStop     bool
	TriggerStream     string
}

// Stores groups the persistence collaborators of the orchestrator.
type Stores struct {
	Sessions  domain.SessionStore
	Trades    domain.TradeStore
	Positions domain.PositionStore
	Snapshots domain.SnapshotStore
	Fills     domain.FillRecorder
	Audit     domain.AuditStore
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// SessionService is the session orchestrator. Mutating operations on one
// session are serialized by that session's mutex; reads are served from the
// last committed view without taking it.
type SessionService struct {
	stores   Stores
	sim      *execution.Simulator
	risk     *RiskChecker
	bus      domain.EventBus
	locks    domain.LockManager
	archiver domain.Archiver
	notifier Notifier
	cfg      SessionConfig
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*sessionRuntime // live sessions by id
}

// sessionRuntime is the in-memory state of one live session.
type sessionRuntime struct {
	mu       sync.Mutex // serializes fills, marks and lifecycle changes
	session  domain.Session
	ledger   *ledger.Ledger
	analyzer *performance.Analyzer

	view atomic.Pointer[portfolioView]
}

// portfolioView is an immutable copy of the last committed state.
type portfolioView struct {
	session   domain.Session
	totals    domain.SessionTotals
	open      []domain.Position
	positions []domain.Position
	trades    []domain.Trade
	symbols   []string
	dailyPnL  float64
	asOf      time.Time
}

// NewSessionService creates a SessionService with all required dependencies.
func NewSessionService(
	stores Stores,
	sim *execution.Simulator,
	bus domain.EventBus,
	locks domain.LockManager,
	cfg SessionConfig,
	logger *slog.Logger,
) *SessionService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	return &SessionService{
		stores:   stores,
		sim:      sim,
		risk:     NewRiskChecker(cfg.Location),
		bus:      bus,
		locks:    locks,
		cfg:      cfg,
		logger:   logger,
		tracer:   telemetry.Tracer("service"),
		now:      time.Now,
		sessions: make(map[string]*sessionRuntime),
	}
}

// SetArchiver enables archiving of finished sessions.
func (s *SessionService) SetArchiver(a domain.Archiver) { s.archiver = a }

// SetNotifier enables operator alerts.
func (s *SessionService) SetNotifier(n Notifier) { s.notifier = n }

// Risk exposes the pre-trade checker.
func (s *SessionService) Risk() *RiskChecker { return s.risk }

// StartSession allocates a new session funded with the configured capital.
// An owner may have only one live session; a second start is rejected with
// domain.ErrSessionAlreadyActive.
func (s *SessionService) StartSession(ctx context.Context, req domain.SessionConfig) (sess domain.Session, err error) {
	ctx, span := s.tracer.Start(ctx, "session.start")
	defer func() { telemetry.End(span, err) }()

	req = s.withDefaults(req)
	if err = s.validateConfig(req); err != nil {
		return domain.Session{}, err
	}

	unlock, err := s.locks.Acquire(ctx, ownerLockKey(req.OwnerID), s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.Session{}, fmt.Errorf("session: start for %q: %w", req.OwnerID, domain.ErrSessionAlreadyActive)
		}
		return domain.Session{}, fmt.Errorf("session: start for %q: acquire owner lock: %w", req.OwnerID, err)
	}
	defer unlock()

	if id, ok := s.liveFor(req.OwnerID); ok {
		return domain.Session{}, fmt.Errorf("session: owner %q has session %s: %w", req.OwnerID, id, domain.ErrSessionAlreadyActive)
	}
	live, err := s.stores.Sessions.ListLive(ctx)
	if err != nil {
		return domain.Session{}, fmt.Errorf("session: start for %q: list live: %w", req.OwnerID, err)
	}
	for _, other := range live {
		if other.OwnerID == req.OwnerID {
			return domain.Session{}, fmt.Errorf("session: owner %q has session %s: %w", req.OwnerID, other.ID, domain.ErrSessionAlreadyActive)
		}
	}

	now := s.now().UTC()
	sess = domain.Session{
		ID:               uuid.NewString(),
		OwnerID:          req.OwnerID,
		Status:           domain.SessionStatusActive,
		InitialCapital:   req.InitialCapital,
		CurrentCapital:   req.InitialCapital,
		AvailableCapital: req.InitialCapital,
		Limits:           req.Limits,
		Strategies:       slices.Clone(req.Strategies),
		RiskFreeRate:     req.RiskFreeRate,
		StartedAt:        now,
		UpdatedAt:        now,
	}
	span.SetAttributes(telemetry.SessionAttr(sess.ID))

	if err = s.stores.Sessions.Upsert(ctx, sess); err != nil {
		return domain.Session{}, fmt.Errorf("session: create %q: %w", sess.ID, err)
	}

	rt := &sessionRuntime{
		session:  sess,
		ledger:   ledger.New(sess.ID, sess.InitialCapital),
		analyzer: s.newAnalyzer(),
	}
	s.refreshView(rt)
	s.register(rt)

	s.logger.InfoContext(ctx, "session: started",
		slog.String("session_id", sess.ID),
		slog.String("owner", sess.OwnerID),
		slog.Float64("initial_capital", sess.InitialCapital),
	)
	s.auditLog(ctx, domain.AuditSessionStarted, map[string]any{
		"session_id":      sess.ID,
		"owner":           sess.OwnerID,
		"initial_capital": sess.InitialCapital,
		"limits":          sess.Limits,
		"strategies":      sess.Strategies,
	})
	s.publish(ctx, domain.ChannelSessions, domain.AuditSessionStarted, sess.ID, sess)
	s.notify(ctx, notify.SessionMessage(domain.AuditSessionStarted, sess))
	return sess, nil
}

// SubmitSignal runs sig through the risk checks, the execution simulator and
// the ledger. Expected refusals are returned as errors carrying a
// domain rejection; nothing is committed when any step fails.
func (s *SessionService) SubmitSignal(ctx context.Context, sessionID string, sig domain.Signal) (upd domain.PositionUpdate, err error) {
	ctx, span := s.tracer.Start(ctx, "session.submit_signal", trace.WithAttributes(
		telemetry.SessionAttr(sessionID),
		attribute.String("papertrade.symbol", sig.Symbol),
		attribute.String("papertrade.strategy", string(sig.Strategy)),
	))
	defer func() { telemetry.End(span, err) }()

	rt, err := s.runtime(sessionID)
	if err != nil {
		return domain.PositionUpdate{}, err
	}
	if err = sig.Validate(); err != nil {
		s.rejected(ctx, sessionID, sig, err)
		return domain.PositionUpdate{}, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err = liveStatus(rt.session); err != nil {
		s.rejected(ctx, sessionID, sig, err)
		return domain.PositionUpdate{}, err
	}

	now := s.now()
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = now
	}

	if !s.sim.Config().Known(sig.Strategy) {
		err = fmt.Errorf("session: unknown strategy %q: %w", sig.Strategy, domain.ErrStrategyNotEnabled)
		s.rejected(ctx, sessionID, sig, err)
		return domain.PositionUpdate{}, err
	}
	var (
		quote  domain.Quote
		quoted bool
	)
	price := func() (float64, error) {
		if !quoted {
			q, err := s.sim.Quote(ctx, sig.Symbol)
			if err != nil {
				return 0, err
			}
			quote, quoted = q, true
		}
		return quote.Price, nil
	}
	if err = s.risk.PreTradeCheck(rt.session, rt.ledger, sig, price, now); err != nil {
		s.rejected(ctx, sessionID, sig, err)
		return domain.PositionUpdate{}, err
	}
	if _, err = price(); err != nil {
		s.rejected(ctx, sessionID, sig, err)
		return domain.PositionUpdate{}, err
	}

	fill, err := s.sim.ExecuteAt(ctx, sig, quote)
	if err != nil {
		if domain.IsRejection(err) {
			s.rejected(ctx, sessionID, sig, err)
			return domain.PositionUpdate{}, err
		}
		return domain.PositionUpdate{}, fmt.Errorf("session: execute signal %q: %w", sig.ID, err)
	}

	upd, err = s.commitFill(ctx, rt, sig.ID, fill)
	if err != nil {
		if domain.IsRejection(err) {
			s.rejected(ctx, sessionID, sig, err)
		}
		return domain.PositionUpdate{}, err
	}

	s.checkKillSwitch(ctx, rt)
	return upd, nil
}

// commitFill applies fill to a copy of the ledger, persists the result and
// swaps the copy in. The caller holds rt.mu.
func (s *SessionService) commitFill(ctx context.Context, rt *sessionRuntime, signalID string, fill domain.Fill) (upd domain.PositionUpdate, err error) {
	ctx, span := s.tracer.Start(ctx, "session.commit_fill", trace.WithAttributes(telemetry.SessionAttr(rt.session.ID)))
	defer func() { telemetry.End(span, err) }()

	staged := rt.ledger.Clone()
	upd, err = staged.ApplySignalFill(signalID, fill)
	if err != nil {
		if errors.Is(err, domain.ErrInvariantViolation) {
			s.logInvariant(ctx, rt, fill, err)
		}
		return domain.PositionUpdate{}, err
	}
	if err = staged.Reconcile(); err != nil {
		s.logInvariant(ctx, rt, fill, err)
		return domain.PositionUpdate{}, fmt.Errorf("session: apply fill to %q: %w", rt.session.ID, err)
	}

	sess := syncSession(rt.session, staged.Totals(), s.now().UTC())
	rec := domain.FillRecord{Session: sess, Trade: upd.Trade, Positions: upd.Positions}
	if err = s.stores.Fills.RecordFill(ctx, rec); err != nil {
		return domain.PositionUpdate{}, fmt.Errorf("session: record fill for %q: %w", sess.ID, err)
	}

	rt.ledger = staged
	rt.session = sess
	s.refreshView(rt)
	v := rt.view.Load()
	rt.analyzer.Record(s.snapshotOf(rt, v, v.asOf))

	s.logger.InfoContext(ctx, "session: fill applied",
		slog.String("session_id", sess.ID),
		slog.String("trade_id", upd.Trade.ID),
		slog.String("symbol", fill.Symbol),
		slog.String("strategy", string(fill.Strategy)),
		slog.String("direction", string(fill.Direction)),
		slog.String("action", string(upd.Action)),
		slog.Float64("quantity", fill.Quantity),
		slog.Float64("fill_price", fill.FillPrice),
		slog.Float64("realized_pnl", upd.RealizedPnL),
		slog.Float64("available", upd.Available),
		slog.Bool("forced", fill.Forced),
	)
	s.auditLog(ctx, domain.AuditFill, map[string]any{
		"session_id":   sess.ID,
		"trade_id":     upd.Trade.ID,
		"signal_id":    signalID,
		"position_id":  upd.Trade.PositionID,
		"action":       string(upd.Action),
		"symbol":       fill.Symbol,
		"strategy":     string(fill.Strategy),
		"direction":    string(fill.Direction),
		"quantity":     fill.Quantity,
		"fill_price":   fill.FillPrice,
		"commission":   fill.Commission,
		"realized_pnl": upd.RealizedPnL,
		"forced":       fill.Forced,
	})
	s.publish(ctx, domain.ChannelPortfolio, "fill", sess.ID, upd)
	return upd, nil
}

// MarkToMarket revalues the open positions in symbol at price and returns
// the stop-loss and take-profit levels newly crossed.
func (s *SessionService) MarkToMarket(ctx context.Context, sessionID, symbol string, price float64) ([]domain.Trigger, error) {
	if symbol == "" || !(price > 0) || math.IsInf(price, 0) {
		return nil, fmt.Errorf("session: mark %q at %v: %w", symbol, price, domain.ErrInvalidInput)
	}
	rt, err := s.runtime(sessionID)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.session.Status.Live() {
		return nil, fmt.Errorf("session: %q is %s: %w", sessionID, rt.session.Status, domain.ErrNoActiveSession)
	}
	return s.applyMarks(ctx, rt, map[string]float64{symbol: price}), nil
}

// applyMarks revalues positions, persists them and delivers any triggers.
// The caller holds rt.mu.
func (s *SessionService) applyMarks(ctx context.Context, rt *sessionRuntime, prices map[string]float64) []domain.Trigger {
	now := s.now().UTC()
	var triggers []domain.Trigger
	symbols := make([]string, 0, len(prices))
	for sym := range prices {
		symbols = append(symbols, sym)
	}
	slices.Sort(symbols)
	for _, sym := range symbols {
		triggers = append(triggers, rt.ledger.MarkToMarket(sym, prices[sym], now)...)
	}

	for _, p := range rt.ledger.OpenPositions() {
		if _, ok := prices[p.Symbol]; !ok {
			continue
		}
		if err := s.stores.Positions.Upsert(ctx, p); err != nil {
			s.logger.WarnContext(ctx, "session: persist mark failed",
				slog.String("session_id", rt.session.ID),
				slog.String("position_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.refreshView(rt)
	s.publish(ctx, domain.ChannelPortfolio, "mark", rt.session.ID, rt.view.Load().totals)
	s.deliverTriggers(ctx, triggers)
	s.checkKillSwitch(ctx, rt)
	return triggers
}

// StopSession closes every open position at its current mark, records a
// final snapshot and completes the session. It waits for any in-flight
// signal on the session to finish first.
func (s *SessionService) StopSession(ctx context.Context, sessionID string) (snap domain.PerformanceSnapshot, err error) {
	ctx, span := s.tracer.Start(ctx, "session.stop", trace.WithAttributes(telemetry.SessionAttr(sessionID)))
	defer func() { telemetry.End(span, err) }()

	rt, err := s.runtime(sessionID)
	if err != nil {
		return domain.PerformanceSnapshot{}, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return s.finishLocked(ctx, rt, domain.SessionStatusCompleted, "stopped")
}

// finishLocked flattens the session and moves it to a terminal status. The
// caller holds rt.mu.
func (s *SessionService) finishLocked(ctx context.Context, rt *sessionRuntime, status domain.SessionStatus, reason string) (domain.PerformanceSnapshot, error) {
	if !rt.session.Status.Live() {
		return domain.PerformanceSnapshot{}, fmt.Errorf("session: %q is %s: %w", rt.session.ID, rt.session.Status, domain.ErrNoActiveSession)
	}
	id := rt.session.ID

	// Refresh marks where a quote is available; stale marks are still used.
	for _, sym := range rt.ledger.Symbols() {
		q, err := s.sim.Quote(ctx, sym)
		if err != nil {
			s.logger.WarnContext(ctx, "session: closing at last mark",
				slog.String("session_id", id),
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
			continue
		}
		rt.ledger.MarkToMarket(sym, q.Price, s.now().UTC())
	}

	for _, pos := range rt.ledger.OpenPositions() {
		price := pos.CurrentPrice
		if !(price > 0) {
			price = pos.AveragePrice
		}
		if _, err := s.commitFill(ctx, rt, "", s.sim.CloseFill(pos, price)); err != nil {
			return domain.PerformanceSnapshot{}, fmt.Errorf("session: close %s/%s in %q: %w", pos.Symbol, pos.Strategy, id, err)
		}
	}

	now := s.now().UTC()
	sess := syncSession(rt.session, rt.ledger.Totals(), now)
	sess.Status = status
	sess.EndedAt = &now
	sess.EndReason = reason

	final := s.snapshotOf(rt, rt.view.Load(), now)
	final.Final = true
	if err := s.stores.Snapshots.Append(ctx, final); err != nil {
		return domain.PerformanceSnapshot{}, fmt.Errorf("session: final snapshot for %q: %w", id, err)
	}
	if err := s.stores.Sessions.Upsert(ctx, sess); err != nil {
		return domain.PerformanceSnapshot{}, fmt.Errorf("session: finish %q: %w", id, err)
	}

	rt.session = sess
	rt.analyzer.Record(final)
	s.refreshView(rt)
	s.unregister(id)

	event := domain.AuditSessionStopped
	if status == domain.SessionStatusTerminated {
		event = domain.AuditSessionTerminated
	}
	s.logger.InfoContext(ctx, "session: finished",
		slog.String("session_id", id),
		slog.String("status", string(status)),
		slog.String("reason", reason),
		slog.Float64("current_capital", sess.CurrentCapital),
		slog.Float64("realized_pnl", sess.RealizedPnL),
		slog.Int("trades", sess.TradeCount),
	)
	s.auditLog(ctx, event, map[string]any{
		"session_id":      id,
		"status":          string(status),
		"reason":          reason,
		"current_capital": sess.CurrentCapital,
		"realized_pnl":    sess.RealizedPnL,
		"commissions":     sess.Commissions,
	})
	s.publish(ctx, domain.ChannelSessions, event, id, sess)
	s.notify(ctx, notify.SessionMessage(event, sess))

	if s.archiver != nil && s.cfg.ArchiveOnStop {
		s.archive(ctx, rt)
	}
	return final, nil
}

// checkKillSwitch terminates the session when the day's loss passes the
// kill-switch threshold. The caller holds rt.mu.
func (s *SessionService) checkKillSwitch(ctx context.Context, rt *sessionRuntime) {
	if !rt.session.Status.Live() {
		return
	}
	loss, tripped := s.risk.KillSwitchTripped(rt.session, rt.ledger, s.now())
	if !tripped {
		return
	}
	reason := fmt.Sprintf("kill switch: daily loss %.2f exceeds %.1f%% of initial capital",
		loss, rt.session.Limits.KillSwitchLossFraction*100)
	s.logger.WarnContext(ctx, "session: kill switch tripped",
		slog.String("session_id", rt.session.ID),
		slog.Float64("daily_loss", loss),
	)
	if _, err := s.finishLocked(ctx, rt, domain.SessionStatusTerminated, reason); err != nil {
		s.logger.ErrorContext(ctx, "session: terminate failed",
			slog.String("session_id", rt.session.ID),
			slog.String("error", err.Error()),
		)
	}
}

// PauseSession stops a session from accepting signals. Marks continue.
func (s *SessionService) PauseSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.transition(ctx, sessionID, domain.SessionStatusActive, domain.SessionStatusPaused, domain.AuditSessionPaused)
}

// ResumeSession lets a paused session accept signals again.
func (s *SessionService) ResumeSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.transition(ctx, sessionID, domain.SessionStatusPaused, domain.SessionStatusActive, domain.AuditSessionResumed)
}

func (s *SessionService) transition(ctx context.Context, sessionID string, from, to domain.SessionStatus, event string) (domain.Session, error) {
	rt, err := s.runtime(sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	switch cur := rt.session.Status; {
	case cur == from:
	case !cur.Live():
		return domain.Session{}, fmt.Errorf("session: %q is %s: %w", sessionID, cur, domain.ErrNoActiveSession)
	case cur == domain.SessionStatusPaused:
		return domain.Session{}, fmt.Errorf("session: %q: %w", sessionID, domain.ErrSessionPaused)
	default:
		return domain.Session{}, fmt.Errorf("session: %q: %w", sessionID, domain.ErrSessionAlreadyActive)
	}

	sess := rt.session
	sess.Status = to
	sess.UpdatedAt = s.now().UTC()
	if err := s.stores.Sessions.Upsert(ctx, sess); err != nil {
		return domain.Session{}, fmt.Errorf("session: %s %q: %w", event, sessionID, err)
	}
	rt.session = sess
	s.refreshView(rt)

	s.logger.InfoContext(ctx, "session: status changed",
		slog.String("session_id", sessionID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	s.auditLog(ctx, event, map[string]any{"session_id": sessionID})
	s.publish(ctx, domain.ChannelSessions, event, sessionID, sess)
	return sess, nil
}

// Recover rebuilds the runtime of every live session found in the store.
// Sessions that fail to restore are skipped and reported.
func (s *SessionService) Recover(ctx context.Context) (int, error) {
	live, err := s.stores.Sessions.ListLive(ctx)
	if err != nil {
		return 0, fmt.Errorf("session: recover: list live: %w", err)
	}

	var errs []error
	n := 0
	for _, sess := range live {
		if _, ok := s.lookup(sess.ID); ok {
			continue
		}
		stored, l, err := s.restore(ctx, sess.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "session: recover failed",
				slog.String("session_id", sess.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}

		rt := &sessionRuntime{
			session:  syncSession(stored, l.Totals(), stored.UpdatedAt),
			ledger:   l,
			analyzer: s.newAnalyzer(),
		}
		s.refreshView(rt)
		s.register(rt)
		n++
		s.logger.InfoContext(ctx, "session: recovered",
			slog.String("session_id", sess.ID),
			slog.String("status", string(sess.Status)),
			slog.Int("open_positions", len(l.OpenPositions())),
			slog.Int("trades", l.Totals().Trades),
		)
	}
	return n, errors.Join(errs...)
}

// withDefaults fills the zero fields of req from the configured defaults.
func (s *SessionService) withDefaults(req domain.SessionConfig) domain.SessionConfig {
	d := s.cfg.Defaults
	if req.OwnerID == "" {
		req.OwnerID = d.OwnerID
	}
	if req.InitialCapital == 0 {
		req.InitialCapital = d.InitialCapital
	}
	if req.Limits.MaxPositionSizeFraction == 0 {
		req.Limits.MaxPositionSizeFraction = d.Limits.MaxPositionSizeFraction
	}
	if req.Limits.MaxDailyLossFraction == 0 {
		req.Limits.MaxDailyLossFraction = d.Limits.MaxDailyLossFraction
	}
	if req.Limits.MinConfidence == 0 {
		req.Limits.MinConfidence = d.Limits.MinConfidence
	}
	if req.Limits.KillSwitchLossFraction == 0 {
		req.Limits.KillSwitchLossFraction = d.Limits.KillSwitchLossFraction
	}
	if len(req.Strategies) == 0 {
		req.Strategies = d.Strategies
	}
	if req.RiskFreeRate == 0 {
		req.RiskFreeRate = d.RiskFreeRate
	}
	return req
}

func (s *SessionService) validateConfig(req domain.SessionConfig) error {
	lim := req.Limits
	switch {
	case req.OwnerID == "":
		return fmt.Errorf("session: owner required: %w", domain.ErrInvalidInput)
	case !(req.InitialCapital > 0) || math.IsInf(req.InitialCapital, 0):
		return fmt.Errorf("session: initial capital %v: %w", req.InitialCapital, domain.ErrInvalidInput)
	case !(lim.MaxPositionSizeFraction > 0 && lim.MaxPositionSizeFraction <= 1):
		return fmt.Errorf("session: max position size fraction %v outside (0,1]: %w", lim.MaxPositionSizeFraction, domain.ErrInvalidInput)
	case !(lim.MaxDailyLossFraction > 0 && lim.MaxDailyLossFraction <= 1):
		return fmt.Errorf("session: max daily loss fraction %v outside (0,1]: %w", lim.MaxDailyLossFraction, domain.ErrInvalidInput)
	case !(lim.MinConfidence >= 0 && lim.MinConfidence <= 1):
		return fmt.Errorf("session: min confidence %v outside [0,1]: %w", lim.MinConfidence, domain.ErrInvalidInput)
	case !(lim.KillSwitchLossFraction >= 0 && lim.KillSwitchLossFraction <= 1):
		return fmt.Errorf("session: kill switch fraction %v outside [0,1]: %w", lim.KillSwitchLossFraction, domain.ErrInvalidInput)
	}
	for _, st := range req.Strategies {
		if !s.sim.Config().Known(st) {
			return fmt.Errorf("session: unknown strategy %q: %w", st, domain.ErrInvalidInput)
		}
	}
	return nil
}

// refreshView publishes the committed state of rt for readers. The caller
// holds rt.mu.
func (s *SessionService) refreshView(rt *sessionRuntime) {
	now := s.now().UTC()
	rt.view.Store(&portfolioView{
		session:   rt.session,
		totals:    rt.ledger.Totals(),
		open:      rt.ledger.OpenPositions(),
		positions: rt.ledger.Positions(),
		trades:    rt.ledger.Trades(),
		symbols:   rt.ledger.Symbols(),
		dailyPnL:  s.risk.DailyPnL(rt.ledger, now),
		asOf:      now,
	})
}

func (s *SessionService) newAnalyzer() *performance.Analyzer {
	return performance.NewAnalyzer(s.cfg.AnnualizationDays, s.cfg.SnapshotWindow)
}

func (s *SessionService) snapshotOf(rt *sessionRuntime, v *portfolioView, at time.Time) domain.PerformanceSnapshot {
	return s.snapshotSince(rt, v, v.session.StartedAt, at)
}

func (s *SessionService) snapshotSince(rt *sessionRuntime, v *portfolioView, since, at time.Time) domain.PerformanceSnapshot {
	return rt.analyzer.Compute(performance.Input{
		SessionID:      v.session.ID,
		Trades:         v.trades,
		Positions:      v.positions,
		InitialCapital: v.session.InitialCapital,
		RiskFreeRate:   v.session.RiskFreeRate,
		WindowStart:    since,
		At:             at,
	})
}

func (s *SessionService) logInvariant(ctx context.Context, rt *sessionRuntime, fill domain.Fill, err error) {
	t := rt.ledger.Totals()
	s.logger.ErrorContext(ctx, "session: invariant violation",
		slog.String("session_id", rt.session.ID),
		slog.String("symbol", fill.Symbol),
		slog.String("strategy", string(fill.Strategy)),
		slog.String("direction", string(fill.Direction)),
		slog.Float64("quantity", fill.Quantity),
		slog.Float64("fill_price", fill.FillPrice),
		slog.Float64("available", t.AvailableCapital),
		slog.Float64("invested", t.InvestedAmount),
		slog.Float64("realized", t.RealizedPnL),
		slog.Float64("commissions", t.Commissions),
		slog.Any("open_positions", rt.ledger.OpenPositions()),
		slog.String("error", err.Error()),
	)
}

// rejected records a refused signal.
func (s *SessionService) rejected(ctx context.Context, sessionID string, sig domain.Signal, err error) {
	code, _ := domain.RejectionCodeOf(err)
	s.logger.InfoContext(ctx, "session: signal rejected",
		slog.String("session_id", sessionID),
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("strategy", string(sig.Strategy)),
		slog.String("code", string(code)),
		slog.String("reason", err.Error()),
	)
	s.auditLog(ctx, domain.AuditRejection, map[string]any{
		"session_id": sessionID,
		"signal_id":  sig.ID,
		"symbol":     sig.Symbol,
		"strategy":   string(sig.Strategy),
		"direction":  string(sig.Direction),
		"amount":     sig.RequestedDollarAmount,
		"code":       string(code),
		"reason":     err.Error(),
	})
}

// deliverTriggers appends each trigger to the durable trigger stream and
// broadcasts it.
func (s *SessionService) deliverTriggers(ctx context.Context, triggers []domain.Trigger) {
	for _, t := range triggers {
		s.logger.InfoContext(ctx, "session: trigger",
			slog.String("session_id", t.SessionID),
			slog.String("position_id", t.PositionID),
			slog.String("symbol", t.Symbol),
			slog.String("kind", string(t.Kind)),
			slog.Float64("level", t.Level),
			slog.Float64("price", t.Price),
		)
		payload, err := json.Marshal(t)
		if err != nil {
			s.logger.WarnContext(ctx, "session: marshal trigger failed", slog.String("error", err.Error()))
			continue
		}
		if s.cfg.TriggerStream != "" {
			if _, err := s.bus.StreamAppend(ctx, s.cfg.TriggerStream, payload); err != nil {
				s.logger.WarnContext(ctx, "session: append trigger failed",
					slog.String("trigger_id", t.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		s.publish(ctx, domain.ChannelTriggers, string(t.Kind), t.SessionID, t)
		s.auditLog(ctx, domain.AuditTrigger, map[string]any{
			"session_id":  t.SessionID,
			"trigger_id":  t.ID,
			"position_id": t.PositionID,
			"symbol":      t.Symbol,
			"kind":        string(t.Kind),
			"level":       t.Level,
			"price":       t.Price,
		})
	}
}

func (s *SessionService) archive(ctx context.Context, rt *sessionRuntime) {
	id := rt.session.ID
	snaps, err := s.stores.Snapshots.ListBySession(ctx, id, domain.ListOpts{})
	if err != nil {
		s.logger.WarnContext(ctx, "session: list snapshots for archive failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		snaps = rt.analyzer.History()
	}
	prefix, err := s.archiver.ArchiveSession(ctx, domain.SessionArchive{
		Session:   rt.session,
		Trades:    rt.ledger.Trades(),
		Positions: rt.ledger.Positions(),
		Snapshots: snaps,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "session: archive failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.InfoContext(ctx, "session: archived",
		slog.String("session_id", id),
		slog.String("prefix", prefix),
	)
}

func (s *SessionService) publish(ctx context.Context, channel, typ, sessionID string, data any) {
	payload, err := json.Marshal(domain.Event{Type: typ, SessionID: sessionID, Data: data, At: s.now().UTC()})
	if err != nil {
		s.logger.WarnContext(ctx, "session: marshal event failed",
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "session: publish event failed",
			slog.String("channel", channel),
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SessionService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.stores.Audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "session: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SessionService) notify(ctx context.Context, msg notify.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "session: notify failed",
			slog.String("event", msg.Event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SessionService) register(rt *sessionRuntime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rt.session.ID] = rt
}

func (s *SessionService) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *SessionService) lookup(id string) (*sessionRuntime, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rt, ok := s.sessions[id]
	return rt, ok
}

// runtime returns the runtime of live session id or domain.ErrNoActiveSession.
func (s *SessionService) runtime(id string) (*sessionRuntime, error) {
	rt, ok := s.lookup(id)
	if !ok {
		return nil, fmt.Errorf("session: %q: %w", id, domain.ErrNoActiveSession)
	}
	return rt, nil
}

// live returns the live runtimes ordered by start time.
func (s *SessionService) live() []*sessionRuntime {
	s.mu.RLock()
	out := make([]*sessionRuntime, 0, len(s.sessions))
	for _, rt := range s.sessions {
		out = append(out, rt)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *sessionRuntime) int {
		return a.view.Load().session.StartedAt.Compare(b.view.Load().session.StartedAt)
	})
	return out
}

func (s *SessionService) liveFor(owner string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, rt := range s.sessions {
		if rt.view.Load().session.OwnerID == owner {
			return id, true
		}
	}
	return "", false
}

func liveStatus(sess domain.Session) error {
	switch sess.Status {
	case domain.SessionStatusActive:
		return nil
	case domain.SessionStatusPaused:
		return fmt.Errorf("session: %q: %w", sess.ID, domain.ErrSessionPaused)
	}
	return fmt.Errorf("session: %q is %s: %w", sess.ID, sess.Status, domain.ErrNoActiveSession)
}

func syncSession(sess domain.Session, t domain.SessionTotals, at time.Time) domain.Session {
	sess.CurrentCapital = t.CurrentCapital
	sess.AvailableCapital = t.AvailableCapital
	sess.RealizedPnL = t.RealizedPnL
	sess.Commissions = t.Commissions
	sess.TradeCount = t.Trades
	sess.UpdatedAt = at
	return sess
}

func ownerLockKey(owner string) string {
	return "papertrade:lock:owner:" + owner
}
