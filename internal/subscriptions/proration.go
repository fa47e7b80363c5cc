package subscriptions

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/billflow-backend/pkg/enums"
	"github.com/angelmondragon/billflow-backend/pkg/paystack"
)

// intervalDays maps a billing interval to the day count used to value unused
// time. Months are priced at 30 days, matching how the provider prorates.
func intervalDays(interval enums.BillingInterval) int64 {
	switch interval {
	case enums.BillingIntervalDaily:
		return 1
	case enums.BillingIntervalWeekly:
		return 7
	case enums.BillingIntervalMonthly:
		return 30
	case enums.BillingIntervalQuarterly:
		return 90
	case enums.BillingIntervalBiannually:
		return 182
	case enums.BillingIntervalAnnually:
		return 365
	default:
		return 30
	}
}

// creditForUnusedTime values the remainder of the current billing period at
// the plan's daily rate.
func creditForUnusedTime(amountSubunits, periodDays, daysRemaining int64) decimal.Decimal {
	if amountSubunits <= 0 || periodDays <= 0 || daysRemaining <= 0 {
		return decimal.Zero
	}
	if daysRemaining > periodDays {
		daysRemaining = periodDays
	}
	daily := decimal.NewFromInt(amountSubunits).Div(decimal.NewFromInt(periodDays))
	return daily.Mul(decimal.NewFromInt(daysRemaining))
}

// freeCyclesForCredit converts a credit into whole covered cycles of the new
// plan, rounding down.
func freeCyclesForCredit(credit decimal.Decimal, cycleAmountSubunits int64) int {
	if cycleAmountSubunits <= 0 || !credit.IsPositive() {
		return 0
	}
	return int(credit.Div(decimal.NewFromInt(cycleAmountSubunits)).IntPart())
}

// carryoverDiscount flattens the outstanding cycles of existing discounts
// into a single first-cycle discount for the replacement subscription.
func carryoverDiscount(discounts []paystack.Discount) int64 {
	total := decimal.Zero
	for _, d := range discounts {
		if d.RemainingCycles <= 0 || d.AmountSubunits <= 0 {
			continue
		}
		total = total.Add(decimal.NewFromInt(d.AmountSubunits).Mul(decimal.NewFromInt(int64(d.RemainingCycles))))
	}
	return total.IntPart()
}

// daysUntil counts the whole days between now and the next payment date,
// rounding partial days up so the customer keeps time already paid for.
func daysUntil(now time.Time, next *time.Time) int64 {
	if next == nil || !next.After(now) {
		return 0
	}
	remaining := next.Sub(now)
	days := int64(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) > 0 {
		days++
	}
	return days
}

// taxInclusiveAmount prices the billed quantity of a plan with the
// customer's tax percentage applied on top, rounded to the nearest subunit.
func taxInclusiveAmount(amountSubunits int64, quantity int, taxPercent decimal.Decimal) int64 {
	total := decimal.NewFromInt(amountSubunits).Mul(decimal.NewFromInt(int64(quantity)))
	if taxPercent.IsPositive() {
		total = total.Mul(decimal.NewFromInt(1).Add(taxPercent.Div(decimal.NewFromInt(100))))
	}
	return total.Round(0).IntPart()
}

// swapDiscounts computes the discount entries that carry the value of an
// in-flight subscription onto a replacement with a different interval.
// Moving to a shorter interval converts the unused time on the old plan into
// whole free cycles of the new plan, rounding down; moving to a longer
// interval grants no unused-time credit. In both directions any discounts
// still running on the old subscription collapse into one first-cycle
// discount.
func swapDiscounts(remote *paystack.Subscription, currentPlan, newPlan *paystack.Plan, now time.Time) []paystack.DiscountAdd {
	var discounts []paystack.DiscountAdd

	if intervalDays(currentPlan.Interval) > intervalDays(newPlan.Interval) {
		daysRemaining := daysUntil(now, remote.NextPaymentDate)
		credit := creditForUnusedTime(currentPlan.AmountSubunits, intervalDays(currentPlan.Interval), daysRemaining)
		if cycles := freeCyclesForCredit(credit, newPlan.AmountSubunits); cycles > 0 {
			discounts = append(discounts, paystack.DiscountAdd{
				AmountSubunits: newPlan.AmountSubunits,
				Cycles:         cycles,
			})
		}
	}
	if carryover := carryoverDiscount(remote.ActiveDiscounts); carryover > 0 {
		discounts = append(discounts, paystack.DiscountAdd{
			AmountSubunits: carryover,
			Cycles:         1,
		})
	}
	return discounts
}
