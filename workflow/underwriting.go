package workflow

import (
	"fmt"

	"loanflow/models"

	"github.com/shopspring/decimal"
)

// Outcome is the underwriting decision variant tag.
type Outcome string

const (
	OutcomeApproved            Outcome = "approved"
	OutcomePendingSalarySlip   Outcome = "pending_salary_slip"
	OutcomePendingBusinessDocs Outcome = "pending_business_docs"
	OutcomePendingGuarantor    Outcome = "pending_guarantor"
	OutcomeRejected            Outcome = "rejected"
)

// Decision is the underwriting engine's tagged result.
type Decision struct {
	Outcome Outcome
	Instant bool // meaningful for OutcomeApproved
	Reason  string

	// Documents required for pending outcomes
	RequiredDocs []string

	// Thresholds applied, recorded onto the application for audit
	CreditScoreThreshold int
	EmiRatio             decimal.Decimal
}

// Pending reports whether more documents are needed before a final decision.
func (d Decision) Pending() bool {
	return d.Outcome == OutcomePendingSalarySlip ||
		d.Outcome == OutcomePendingBusinessDocs ||
		d.Outcome == OutcomePendingGuarantor
}

var (
	ratioHalf        = decimal.NewFromFloat(0.50)
	ratioMidCareer   = decimal.NewFromFloat(0.40)
	ratioNewToCredit = decimal.NewFromFloat(0.35)
	multNewToCredit  = decimal.NewFromFloat(1.5)
	multUpperBound   = decimal.NewFromInt(2)
)

// minCreditScore returns the segment-aware credit score floor.
func minCreditScore(segment Segment) int {
	switch segment.Name {
	case SegmentNewToCredit:
		return 650
	case SegmentYoungSalaried:
		return 680
	case SegmentMidCareer:
		return 720
	}
	return 700
}

// emiRatioFor returns the segment-aware maximum EMI-to-income ratio.
func emiRatioFor(segment Segment) decimal.Decimal {
	switch segment.Name {
	case SegmentMidCareer:
		return ratioMidCareer
	case SegmentNewToCredit:
		return ratioNewToCredit
	}
	return ratioHalf
}

// Assess renders the underwriting decision for a loan request. Pure: the same
// inputs always produce the same Decision. Rules are evaluated in fixed
// order; the first matching rule wins.
func Assess(customer *models.Customer, amount decimal.Decimal, tenureMonths int, segment Segment) Decision {
	scoreFloor := minCreditScore(segment)
	emiRatio := emiRatioFor(segment)

	// Rule 1: segment-aware credit score floor
	if customer.CreditScore < scoreFloor {
		return Decision{
			Outcome:              OutcomeRejected,
			Reason:               fmt.Sprintf("credit score below threshold of %d for profile", scoreFloor),
			CreditScoreThreshold: scoreFloor,
			EmiRatio:             emiRatio,
		}
	}

	limit := customer.PreApprovedLimit

	// Rule 2: instant approval within the pre-approved limit
	if amount.LessThanOrEqual(limit) {
		return Decision{
			Outcome:              OutcomeApproved,
			Instant:              true,
			Reason:               "Within pre-approved limit",
			CreditScoreThreshold: scoreFloor,
			EmiRatio:             emiRatio,
		}
	}

	// Rule 3: self-employed borrowers above the limit need business financials
	if segment.Name == SegmentSelfEmployed {
		return Decision{
			Outcome:              OutcomePendingBusinessDocs,
			Reason:               "Amount exceeds pre-approved limit; business income verification required",
			RequiredDocs:         []string{"ITR", "GST returns", "bank statements"},
			CreditScoreThreshold: scoreFloor,
			EmiRatio:             emiRatio,
		}
	}

	// Rule 4: new-to-credit borrowers up to 1.5x need a guarantor
	if segment.Name == SegmentNewToCredit && amount.LessThanOrEqual(limit.Mul(multNewToCredit)) {
		return Decision{
			Outcome:              OutcomePendingGuarantor,
			Reason:               "Amount exceeds pre-approved limit; a guarantor is required for first-time borrowers",
			RequiredDocs:         []string{"guarantor KYC", "guarantor consent"},
			CreditScoreThreshold: scoreFloor,
			EmiRatio:             emiRatio,
		}
	}

	// Rule 5: up to 2x requires salary verification
	if amount.LessThanOrEqual(limit.Mul(multUpperBound)) {
		return Decision{
			Outcome:              OutcomePendingSalarySlip,
			Reason:               "Requires salary slip verification",
			RequiredDocs:         []string{"latest salary slip"},
			CreditScoreThreshold: scoreFloor,
			EmiRatio:             emiRatio,
		}
	}

	// Rule 6: beyond 2x is declined outright
	return Decision{
		Outcome:              OutcomeRejected,
		Reason:               "exceeds 2× pre-approved limit",
		CreditScoreThreshold: scoreFloor,
		EmiRatio:             emiRatio,
	}
}

// ValidateAffordability checks the flat EMI against the segment-aware share
// of monthly income. Used once a salary figure is known.
func ValidateAffordability(monthlyIncome, amount decimal.Decimal, tenureMonths int, segment Segment) (bool, string) {
	if tenureMonths <= 0 {
		return false, "invalid tenure"
	}
	monthlyEMI := amount.Div(decimal.NewFromInt(int64(tenureMonths)))
	maxEMI := monthlyIncome.Mul(emiRatioFor(segment))

	if monthlyEMI.LessThanOrEqual(maxEMI) {
		return true, fmt.Sprintf("EMI within %s%% of monthly income", emiRatioFor(segment).Mul(decimal.NewFromInt(100)).String())
	}
	return false, fmt.Sprintf("EMI exceeds %s%% of monthly income", emiRatioFor(segment).Mul(decimal.NewFromInt(100)).String())
}
