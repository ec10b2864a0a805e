// Package metering bills owners for generated narrations.
//
// Charges are fire-and-forget: [Meter.Charge] schedules the ledger debit on a
// background goroutine and returns immediately. A failed debit is logged and
// counted but never surfaces to the caller, and never withholds audio that
// has already been produced.
package metering

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/narrata/internal/apperr"
	"github.com/MrWong99/narrata/internal/observe"
	"github.com/MrWong99/narrata/pkg/provider/ledger"
)

// Category is the ledger category of narration debits.
const Category = "voice_narration"

// Pricing defaults, in ledger credits.
const (
	DefaultBaseCost         = 1
	DefaultPerThousandChars = 1
	DefaultTimeout          = 5 * time.Second
)

// Pricing decides how much a narration costs.
type Pricing struct {
	BaseCost         int64
	PerThousandChars int64
}

// Amount returns BaseCost plus PerThousandChars for every started block of
// 1000 characters in text.
func (p Pricing) Amount(text string) int64 {
	n := int64(utf8.RuneCountInString(text))
	blocks := (n + 999) / 1000
	return p.BaseCost + p.PerThousandChars*blocks
}

// Charge describes one billable narration.
type Charge struct {
	OwnerID   string
	ProfileID string
	CacheKey  string
	Text      string
}

// Option is a functional option for configuring a Meter.
type Option func(*Meter)

// WithPricing overrides the default pricing.
func WithPricing(p Pricing) Option {
	return func(m *Meter) {
		m.pricing = p
	}
}

// WithTimeout bounds each debit call.
func WithTimeout(d time.Duration) Option {
	return func(m *Meter) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithAllowNegativeBalance lets debits overdraw the owner's balance.
func WithAllowNegativeBalance(allow bool) Option {
	return func(m *Meter) {
		m.allowNegative = allow
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Meter) {
		if met != nil {
			m.metrics = met
		}
	}
}

// Meter schedules ledger debits. It is safe for concurrent use.
type Meter struct {
	ledger        ledger.Provider
	pricing       Pricing
	timeout       time.Duration
	allowNegative bool
	metrics       *observe.Metrics

	wg sync.WaitGroup
}

// New creates a Meter debiting l. A nil l yields a Meter whose Charge is a
// no-op, for deployments without billing.
func New(l ledger.Provider, opts ...Option) *Meter {
	m := &Meter{
		ledger:        l,
		pricing:       Pricing{BaseCost: DefaultBaseCost, PerThousandChars: DefaultPerThousandChars},
		timeout:       DefaultTimeout,
		allowNegative: true,
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Charge schedules the debit for c and returns immediately. The debit runs
// detached from ctx's cancellation but keeps its values (trace ids).
func (m *Meter) Charge(ctx context.Context, c Charge) {
	if m.ledger == nil {
		return
	}
	req := ledger.DebitRequest{
		OwnerID:     c.OwnerID,
		Amount:      m.pricing.Amount(c.Text),
		Category:    Category,
		Description: fmt.Sprintf("Narration of %d characters", utf8.RuneCountInString(c.Text)),
		Metadata: map[string]string{
			"profile_id": c.ProfileID,
			"cache_key":  c.CacheKey,
		},
		AllowNegativeBalance: m.allowNegative,
	}

	bg := context.WithoutCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.debit(bg, req); err != nil {
			observe.Logger(bg).Warn("narration debit failed",
				slog.String("owner_id", req.OwnerID),
				slog.Int64("amount", req.Amount),
				slog.Any("err", err),
			)
			m.metrics.RecordDegradation(bg, observe.DegradeMeteringFailed)
		}
	}()
}

func (m *Meter) debit(ctx context.Context, req ledger.DebitRequest) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	defer m.metrics.RecordStage(ctx, observe.StageMetering, start)

	res, err := m.ledger.Debit(ctx, req)
	if err != nil {
		m.metrics.RecordProviderRequest(ctx, "ledger", "debit", "error")
		return apperr.Wrap(apperr.KindMetering, "metering.charge", "ledger debit failed", err)
	}
	if !res.Success {
		m.metrics.RecordProviderRequest(ctx, "ledger", "debit", "declined")
		return apperr.New(apperr.KindMetering, "metering.charge", "ledger declined the debit")
	}
	m.metrics.RecordProviderRequest(ctx, "ledger", "debit", "ok")
	return nil
}

// Wait blocks until every scheduled debit has finished or ctx is done.
func (m *Meter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
