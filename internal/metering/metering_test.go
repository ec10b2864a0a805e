package metering

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/narrata/pkg/provider/ledger"
	ledgermock "github.com/MrWong99/narrata/pkg/provider/ledger/mock"
)

func TestPricing_Amount(t *testing.T) {
	t.Parallel()

	p := Pricing{BaseCost: 2, PerThousandChars: 3}
	tests := []struct {
		text string
		want int64
	}{
		{"", 2},
		{"a", 5},
		{strings.Repeat("a", 1000), 5},
		{strings.Repeat("a", 1001), 8},
		{strings.Repeat("ü", 1000), 5},
	}
	for _, tt := range tests {
		if got := p.Amount(tt.text); got != tt.want {
			t.Errorf("Amount(%d runes) = %d, want %d", len([]rune(tt.text)), got, tt.want)
		}
	}
}

func TestCharge_Debits(t *testing.T) {
	t.Parallel()

	l := &ledgermock.Provider{}
	m := New(l, WithPricing(Pricing{BaseCost: 1, PerThousandChars: 2}), WithAllowNegativeBalance(false))

	ctx, cancel := context.WithCancel(context.Background())
	m.Charge(ctx, Charge{OwnerID: "o1", ProfileID: "p1", CacheKey: "sha256:ab", Text: "hello"})
	cancel() // the debit must outlive the request context

	if err := m.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	calls := l.Calls()
	if len(calls) != 1 {
		t.Fatalf("debits = %d, want 1", len(calls))
	}
	got := calls[0]
	if got.OwnerID != "o1" || got.Amount != 3 || got.Category != Category || got.AllowNegativeBalance {
		t.Errorf("debit = %+v", got)
	}
	if got.Metadata["profile_id"] != "p1" || got.Metadata["cache_key"] != "sha256:ab" {
		t.Errorf("metadata = %v", got.Metadata)
	}
}

func TestCharge_FailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	for name, l := range map[string]*ledgermock.Provider{
		"error":    {DebitErr: errors.New("ledger down")},
		"declined": {DebitResult: &ledger.DebitResult{Success: false}},
	} {
		t.Run(name, func(t *testing.T) {
			m := New(l)
			m.Charge(context.Background(), Charge{OwnerID: "o", Text: "x"})
			if err := m.Wait(context.Background()); err != nil {
				t.Fatalf("Wait: %v", err)
			}
			if len(l.Calls()) != 1 {
				t.Errorf("debits = %d, want 1", len(l.Calls()))
			}
		})
	}
}

type blockingLedger struct{ release chan struct{} }

func (b *blockingLedger) Debit(ctx context.Context, _ ledger.DebitRequest) (*ledger.DebitResult, error) {
	select {
	case <-b.release:
		return &ledger.DebitResult{Success: true}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestCharge_DoesNotBlockAndTimesOut(t *testing.T) {
	t.Parallel()

	bl := &blockingLedger{release: make(chan struct{})}
	m := New(bl, WithTimeout(50*time.Millisecond))

	start := time.Now()
	m.Charge(context.Background(), Charge{OwnerID: "o", Text: "x"})
	if time.Since(start) > 20*time.Millisecond {
		t.Error("Charge blocked on the ledger")
	}

	short, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-short.Done()
	if err := m.Wait(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait(expired) = %v, want DeadlineExceeded", err)
	}

	if err := m.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestCharge_NilLedger(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.Charge(context.Background(), Charge{OwnerID: "o", Text: "x"})
	if err := m.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}
