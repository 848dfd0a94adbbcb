package decision

import (
	"dealhunter/internal/cache"
	"dealhunter/internal/models"
)

// Outcome of evaluating one observation against an item's policy
const (
	OutcomeBuy      = "buy"
	OutcomeSkip     = "skip"
	OutcomeWouldBuy = "would_buy" // all buy conditions hold but a human must confirm
)

// Skip reasons. Multiple may apply to one observation; all applicable
// reasons are reported.
const (
	ReasonProbeFailed          = "probe_failed"
	ReasonOutOfStock           = "out_of_stock"
	ReasonPriceAboveTarget     = "price_above_target"
	ReasonNoPrice              = "no_price"
	ReasonAutoPurchaseDisabled = "auto_purchase_disabled"
	ReasonConfirmationRequired = "confirmation_required"
	ReasonInvalidPolicy        = "invalid_policy"
)

// Verdict is the decision engine's output for one observation.
type Verdict struct {
	Outcome string   `json:"outcome"`
	Reasons []string `json:"reasons,omitempty"`
}

// Decide evaluates a probe result against the item's purchase policy.
// Pure function: buy iff the probe succeeded, the item is in stock at
// or below target price, auto-purchase is on and no confirmation is
// required. Price equal to target counts as a match.
func Decide(item *models.TrackedItem, res cache.ProbeResult) Verdict {
	if !item.PolicyValid() {
		return Verdict{Outcome: OutcomeSkip, Reasons: []string{ReasonInvalidPolicy}}
	}

	var reasons []string

	if !res.Success {
		reasons = append(reasons, ReasonProbeFailed)
	}
	if res.Success && !res.InStock {
		reasons = append(reasons, ReasonOutOfStock)
	}
	if res.Success && res.Price == nil {
		reasons = append(reasons, ReasonNoPrice)
	}
	if res.Success && res.Price != nil && *res.Price > item.TargetPrice {
		reasons = append(reasons, ReasonPriceAboveTarget)
	}
	if !item.AutoPurchaseEnabled {
		reasons = append(reasons, ReasonAutoPurchaseDisabled)
	}
	if item.RequiresConfirmation {
		reasons = append(reasons, ReasonConfirmationRequired)
	}

	// Only the confirmation gate stands in the way: surface a would-buy
	// so a notifier can alert a human instead of buying.
	if len(reasons) == 1 && reasons[0] == ReasonConfirmationRequired {
		return Verdict{Outcome: OutcomeWouldBuy, Reasons: reasons}
	}

	if len(reasons) > 0 {
		return Verdict{Outcome: OutcomeSkip, Reasons: reasons}
	}

	return Verdict{Outcome: OutcomeBuy}
}
