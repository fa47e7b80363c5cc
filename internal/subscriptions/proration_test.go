package subscriptions

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/billflow-backend/pkg/enums"
	"github.com/angelmondragon/billflow-backend/pkg/paystack"
)

func TestCreditForUnusedTime(t *testing.T) {
	cases := []struct {
		name          string
		amount        int64
		periodDays    int64
		daysRemaining int64
		want          int64
	}{
		{name: "annual with 73 days left", amount: 365000, periodDays: 365, daysRemaining: 73, want: 73000},
		{name: "monthly halfway", amount: 30000, periodDays: 30, daysRemaining: 15, want: 15000},
		{name: "nothing remaining", amount: 30000, periodDays: 30, daysRemaining: 0, want: 0},
		{name: "clamped to period", amount: 30000, periodDays: 30, daysRemaining: 45, want: 30000},
		{name: "free plan", amount: 0, periodDays: 30, daysRemaining: 10, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := creditForUnusedTime(tc.amount, tc.periodDays, tc.daysRemaining)
			if !got.Equal(decimal.NewFromInt(tc.want)) {
				t.Fatalf("credit = %s, want %d", got, tc.want)
			}
		})
	}
}

func TestFreeCyclesForCredit(t *testing.T) {
	cases := []struct {
		name   string
		credit int64
		cycle  int64
		want   int
	}{
		{name: "two full cycles", credit: 73000, cycle: 30000, want: 2},
		{name: "just under one", credit: 29999, cycle: 30000, want: 0},
		{name: "exact", credit: 60000, cycle: 30000, want: 2},
		{name: "zero cycle amount", credit: 50000, cycle: 0, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := freeCyclesForCredit(decimal.NewFromInt(tc.credit), tc.cycle)
			if got != tc.want {
				t.Fatalf("cycles = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestCarryoverDiscount(t *testing.T) {
	discounts := []paystack.Discount{
		{ID: "d1", AmountSubunits: 500, RemainingCycles: 3},
		{ID: "d2", AmountSubunits: 200, RemainingCycles: 0},
		{ID: "d3", AmountSubunits: 1000, RemainingCycles: 1},
	}
	if got := carryoverDiscount(discounts); got != 2500 {
		t.Fatalf("carryover = %d, want 2500", got)
	}
	if got := carryoverDiscount(nil); got != 0 {
		t.Fatalf("empty carryover = %d, want 0", got)
	}
}

func TestDaysUntilRoundsPartialDaysUp(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	exact := now.Add(3 * 24 * time.Hour)
	if got := daysUntil(now, &exact); got != 3 {
		t.Fatalf("exact days = %d, want 3", got)
	}

	partial := now.Add(3*24*time.Hour + time.Minute)
	if got := daysUntil(now, &partial); got != 4 {
		t.Fatalf("partial days = %d, want 4", got)
	}

	past := now.Add(-time.Hour)
	if got := daysUntil(now, &past); got != 0 {
		t.Fatalf("past days = %d, want 0", got)
	}
	if got := daysUntil(now, nil); got != 0 {
		t.Fatalf("nil days = %d, want 0", got)
	}
}

func TestTaxInclusiveAmount(t *testing.T) {
	cases := []struct {
		name       string
		amount     int64
		quantity   int
		taxPercent string
		want       int64
	}{
		{name: "no tax", amount: 30000, quantity: 1, taxPercent: "0", want: 30000},
		{name: "vat on single unit", amount: 30000, quantity: 1, taxPercent: "7.5", want: 32250},
		{name: "vat on three seats", amount: 30000, quantity: 3, taxPercent: "7.5", want: 96750},
		{name: "rounds to nearest subunit", amount: 9999, quantity: 1, taxPercent: "7.5", want: 10749},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := taxInclusiveAmount(tc.amount, tc.quantity, decimal.RequireFromString(tc.taxPercent))
			if got != tc.want {
				t.Fatalf("amount = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestSwapDiscountsAnnualToMonthly(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(73 * 24 * time.Hour)
	remote := &paystack.Subscription{
		NextPaymentDate: &next,
		ActiveDiscounts: []paystack.Discount{{ID: "d1", AmountSubunits: 400, RemainingCycles: 5}},
	}
	annual := &paystack.Plan{PlanCode: "PLN_yearly", AmountSubunits: 365000, Interval: enums.BillingIntervalAnnually}
	monthly := &paystack.Plan{PlanCode: "PLN_monthly", AmountSubunits: 30000, Interval: enums.BillingIntervalMonthly}

	// 73 unused days of the annual plan are worth 73 000, covering 2 whole
	// monthly cycles. The 13 000 left over after those cycles is forfeited.
	discounts := swapDiscounts(remote, annual, monthly, now)
	if len(discounts) != 2 {
		t.Fatalf("expected 2 discount entries, got %+v", discounts)
	}
	if discounts[0].AmountSubunits != 30000 || discounts[0].Cycles != 2 {
		t.Fatalf("free cycles entry = %+v", discounts[0])
	}
	if discounts[1].AmountSubunits != 2000 || discounts[1].Cycles != 1 {
		t.Fatalf("carryover entry = %+v", discounts[1])
	}
}

func TestSwapDiscountsMonthlyToAnnualCollapsesRunningDiscounts(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(10 * 24 * time.Hour)
	remote := &paystack.Subscription{
		NextPaymentDate: &next,
		ActiveDiscounts: []paystack.Discount{{ID: "d1", AmountSubunits: 1500, RemainingCycles: 4}},
	}
	monthly := &paystack.Plan{PlanCode: "PLN_monthly", AmountSubunits: 30000, Interval: enums.BillingIntervalMonthly}
	annual := &paystack.Plan{PlanCode: "PLN_yearly", AmountSubunits: 365000, Interval: enums.BillingIntervalAnnually}

	discounts := swapDiscounts(remote, monthly, annual, now)
	// Moving to a longer interval grants no unused-time credit; only the
	// running discounts collapse into a single first-cycle entry.
	if len(discounts) != 1 {
		t.Fatalf("expected 1 discount entry, got %+v", discounts)
	}
	if discounts[0].AmountSubunits != 6000 || discounts[0].Cycles != 1 {
		t.Fatalf("collapsed discount entry = %+v", discounts[0])
	}
}

func TestSwapDiscountsNoRemainingTime(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	remote := &paystack.Subscription{NextPaymentDate: nil}
	monthly := &paystack.Plan{AmountSubunits: 30000, Interval: enums.BillingIntervalMonthly}
	annual := &paystack.Plan{AmountSubunits: 365000, Interval: enums.BillingIntervalAnnually}

	if discounts := swapDiscounts(remote, monthly, annual, now); len(discounts) != 0 {
		t.Fatalf("expected no discounts, got %+v", discounts)
	}
}
