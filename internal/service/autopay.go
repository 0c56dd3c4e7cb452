package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/newstore-ledger/internal/clock"
	"github.com/iliyamo/newstore-ledger/internal/gateway"
	"github.com/iliyamo/newstore-ledger/internal/model"
	"github.com/iliyamo/newstore-ledger/internal/queue"
)

// Audit reasons written to autopay_runs.
const (
	ReasonNoneAvailable        = "none_available"
	ReasonSecurityCodeRequired = "security_code_required"
	ReasonDeclined             = "declined"
	ReasonPending              = "pending"
	ReasonProviderError        = "provider_error"
	ReasonInternal             = "internal_error"
)

// AutopayConfig holds the scheduler knobs.
type AutopayConfig struct {
	MaxNumbers      int
	NotificationURL string
	Timeout         time.Duration
}

// Autopay buys favourite numbers for opted-in users when a draw opens.
type Autopay struct {
	store        Store
	gw           gateway.Gateway
	prices       PriceSource
	reservations *Reservations
	settlement   *Settlement
	clock        clock.Clock
	pub          queue.Publisher
	cfg          AutopayConfig
}

func NewAutopay(store Store, gw gateway.Gateway, prices PriceSource, reservations *Reservations, settlement *Settlement,
	clk clock.Clock, pub queue.Publisher, cfg AutopayConfig) *Autopay {
	if cfg.MaxNumbers <= 0 {
		cfg.MaxNumbers = model.MaxFavoriteNumbers
	}
	if pub == nil {
		pub = queue.Nop{}
	}
	return &Autopay{store: store, gw: gw, prices: prices, reservations: reservations, settlement: settlement,
		clock: clk, pub: pub, cfg: cfg}
}

// ProfileOutcome is one profile's result within a run.
type ProfileOutcome struct {
	UserID    int64
	Tried     []int
	Bought    []int
	Status    model.RunStatus
	Reason    string
	PaymentID *string
}

// RunResult lists every profile outcome of a run.
type RunResult struct {
	DrawID     int64
	AlreadyRan bool
	Outcomes   []ProfileOutcome
}

// RunForDraw charges every eligible profile once for drawID.  A draw is
// processed once unless force is set.  Each profile is handled in its own
// transactions; one failure never affects another.
func (s *Autopay) RunForDraw(ctx context.Context, drawID int64, force bool) (*RunResult, error) {
	ctx, span := tracer.Start(ctx, "autopay.RunForDraw")
	defer span.End()
	span.SetAttributes(attribute.Int64("draw.id", drawID), attribute.Bool("force", force))

	result := &RunResult{DrawID: drawID}
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		d, err := s.store.LockDraw(ctx, drawID)
		if err != nil {
			return fmt.Errorf("draw %d: %w", drawID, err)
		}
		if !d.IsOpen() {
			return fmt.Errorf("draw %d is closed: %w", drawID, ErrConflict)
		}
		if d.AutopayRanAt != nil && !force {
			result.AlreadyRan = true
			return nil
		}
		return s.store.MarkAutopayRan(ctx, drawID, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	if result.AlreadyRan {
		slog.Info("autopay already ran for draw", "drawId", drawID)
		return result, nil
	}

	profiles, err := s.store.ActiveAutopayProfiles(ctx)
	if err != nil {
		return nil, err
	}
	var ok, skipped, failed int
	for _, p := range profiles {
		if !p.Eligible() {
			continue
		}
		out := s.runProfile(ctx, drawID, p)
		span.AddEvent("profile", trace.WithAttributes(
			attribute.Int64("user.id", p.UserID),
			attribute.String("status", string(out.Status)),
			attribute.String("reason", out.Reason),
		))
		result.Outcomes = append(result.Outcomes, out)
		switch out.Status {
		case model.RunOK:
			ok++
		case model.RunSkipped:
			skipped++
		case model.RunError:
			failed++
		}
	}
	slog.Info("autopay run finished", "drawId", drawID, "ok", ok, "skipped", skipped, "error", failed)
	publish(ctx, s.pub, queue.KeyAutopayCompleted, queue.AutopayCompleted{
		DrawID: drawID, OK: ok, Skipped: skipped, Failed: failed, At: s.clock.Now(),
	})
	return result, nil
}

func (s *Autopay) runProfile(ctx context.Context, drawID int64, p model.AutopayProfile) ProfileOutcome {
	tried := p.Numbers
	if len(tried) > s.cfg.MaxNumbers {
		tried = tried[:s.cfg.MaxNumbers]
	}
	out := ProfileOutcome{UserID: p.UserID, Tried: tried}
	amount, err := s.buy(ctx, drawID, p, &out)
	if err != nil {
		slog.Warn("autopay profile failed", "drawId", drawID, "userId", p.UserID, "status", out.Status, "reason", out.Reason, "err", err)
	}

	run := &model.AutopayRun{
		DrawID:      drawID,
		UserID:      p.UserID,
		Tried:       out.Tried,
		Bought:      out.Bought,
		Status:      out.Status,
		Reason:      out.Reason,
		PaymentID:   out.PaymentID,
		AmountCents: amount,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.store.InsertAutopayRun(ctx, run); err != nil {
		slog.Error("autopay audit insert failed", "drawId", drawID, "userId", p.UserID, "err", err)
	}
	return out
}

// buy fills out and returns the charged amount.
func (s *Autopay) buy(ctx context.Context, drawID int64, p model.AutopayProfile, out *ProfileOutcome) (int64, error) {
	fail := func(status model.RunStatus, reason string, err error) (int64, error) {
		out.Status, out.Reason = status, reason
		return 0, err
	}

	r, err := s.reservations.reservePartial(ctx, ReserveInput{UserID: p.UserID, DrawID: drawID, Numbers: out.Tried})
	if isNoneAvailable(err) {
		return fail(model.RunSkipped, ReasonNoneAvailable, nil)
	}
	if err != nil {
		return fail(model.RunError, ReasonInternal, err)
	}
	release := func() {
		if err := s.reservations.cancel(context.WithoutCancel(ctx), r.ID); err != nil {
			slog.Error("autopay reservation release failed", "reservationId", r.ID, "err", err)
		}
	}

	price, err := s.prices.Current(ctx)
	if err != nil {
		release()
		return fail(model.RunError, ReasonInternal, err)
	}
	amount := int64(len(r.Numbers)) * price

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	gp, err := s.gw.ChargeSavedCard(cctx, gateway.CardChargeRequest{
		AmountCents:       amount,
		Description:       fmt.Sprintf("Autopay draw %d numbers %v", drawID, r.Numbers),
		PayerEmail:        p.Email,
		CustomerID:        p.CustomerID,
		CardID:            p.CardID,
		IdempotencyKey:    r.ID,
		ExternalReference: r.ID,
		NotificationURL:   s.cfg.NotificationURL,
	})
	cancel()
	switch {
	case errors.Is(err, gateway.ErrSecurityCodeRequired):
		release()
		return fail(model.RunSkipped, ReasonSecurityCodeRequired, nil)
	case err != nil:
		release()
		return fail(model.RunError, ReasonProviderError, err)
	}

	payment := &model.Payment{
		ID:            gp.ID,
		UserID:        p.UserID,
		DrawID:        &r.DrawID,
		ReservationID: &r.ID,
		Numbers:       r.Numbers,
		AmountCents:   amount,
		Method:        model.MethodCard,
		Status:        gp.Status,
		StatusDetail:  gp.StatusDetail,
		CreatedAt:     s.clock.Now(),
	}
	phase := gp.Status.Phase()
	if phase != model.PhaseFailed {
		if err := s.store.WithTx(ctx, func(ctx context.Context) error {
			if err := s.store.InsertPayment(ctx, payment); err != nil {
				return err
			}
			return s.store.AttachPayment(ctx, r.ID, payment.ID)
		}); err != nil {
			release()
			return fail(model.RunError, ReasonInternal, err)
		}
		out.PaymentID = &payment.ID
	}

	switch phase {
	case model.PhaseApproved:
		res, err := s.settlement.Apply(ctx, payment.ID, gp.Status, gp.StatusDetail)
		if err != nil {
			// the sweeper will retry the approved, unsettled payment
			return fail(model.RunError, ReasonInternal, err)
		}
		out.Bought = minus(r.Numbers, res.Oversold)
		out.Status = model.RunOK
		return amount, nil
	case model.PhaseFailed:
		release()
		reason := ReasonDeclined
		if gp.StatusDetail != "" {
			reason += ": " + gp.StatusDetail
		}
		return fail(model.RunError, reason, nil)
	default:
		release()
		return fail(model.RunError, ReasonPending, nil)
	}
}

func minus(all, drop []int) []int {
	if len(drop) == 0 {
		return all
	}
	skip := make(map[int]bool, len(drop))
	for _, n := range drop {
		skip[n] = true
	}
	var out []int
	for _, n := range all {
		if !skip[n] {
			out = append(out, n)
		}
	}
	return out
}

// ProfileInput is the self-service payload of an autopay profile.
type ProfileInput struct {
	Active         bool
	CustomerID     string
	CardID         string
	HolderName     string
	HolderDocument string
	Numbers        []int
}

// GetProfile returns the caller's profile.
func (s *Autopay) GetProfile(ctx context.Context, userID int64) (*model.AutopayProfile, error) {
	p, err := s.store.GetAutopayProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("autopay profile: %w", err)
	}
	return p, nil
}

// SaveProfile creates or replaces the caller's profile.  Favourites are
// deduplicated, must be within 0..99 and are capped at the configured
// maximum.
func (s *Autopay) SaveProfile(ctx context.Context, who Identity, in ProfileInput) (*model.AutopayProfile, error) {
	seen := map[int]bool{}
	var numbers []int
	for _, n := range in.Numbers {
		if n < 0 || n >= model.DefaultTotalNumbers {
			return nil, fmt.Errorf("number %d out of range 0..%d: %w", n, model.DefaultTotalNumbers-1, ErrInvalidInput)
		}
		if !seen[n] {
			seen[n] = true
			numbers = append(numbers, n)
		}
	}
	sort.Ints(numbers)
	if len(numbers) > s.cfg.MaxNumbers {
		return nil, fmt.Errorf("at most %d favourite numbers: %w", s.cfg.MaxNumbers, ErrInvalidInput)
	}
	if in.Active && (in.CustomerID == "" || in.CardID == "") {
		return nil, fmt.Errorf("customer and card are required to activate autopay: %w", ErrInvalidInput)
	}
	p := &model.AutopayProfile{
		UserID:         who.UserID,
		Email:          who.Email,
		Active:         in.Active,
		CustomerID:     in.CustomerID,
		CardID:         in.CardID,
		HolderName:     in.HolderName,
		HolderDocument: in.HolderDocument,
		Numbers:        numbers,
		UpdatedAt:      s.clock.Now(),
	}
	if err := s.store.WithTx(ctx, func(ctx context.Context) error {
		return s.store.UpsertAutopayProfile(ctx, p)
	}); err != nil {
		return nil, err
	}
	return p, nil
}

// Deactivate switches the caller's profile off.
func (s *Autopay) Deactivate(ctx context.Context, userID int64) error {
	if err := s.store.DeactivateAutopayProfile(ctx, userID); err != nil {
		return fmt.Errorf("autopay profile: %w", err)
	}
	return nil
}
