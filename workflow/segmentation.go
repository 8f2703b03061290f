package workflow

import (
	"loanflow/agents"
	"loanflow/models"

	"github.com/shopspring/decimal"
)

// Segment names used across underwriting thresholds and prompt tailoring.
const (
	SegmentYoungSalaried = "Young Salaried Professional"
	SegmentSelfEmployed  = "Self-Employed Professional"
	SegmentMidCareer     = "Mid-Career Family Borrower"
	SegmentNewToCredit   = "Low-Income or New-to-Credit Applicant"
	SegmentSenior        = "Senior Borrower"
	SegmentStandard      = "Standard Retail Borrower"
)

// Segment describes a derived applicant classification. It tailors thresholds
// and phrasing only; it never bypasses mandatory verification steps.
type Segment struct {
	Name             string
	AgeGroup         string
	Needs            []string
	Tags             []string
	UnderwritingHint string
}

// Hint converts the descriptor into the prompt-tailoring form the agents take.
func (s Segment) Hint() agents.SegmentHint {
	tone := "Keep the tone professional."
	switch s.Name {
	case SegmentYoungSalaried:
		tone = "Keep the tone upbeat and fast-paced; this customer values speed and digital convenience."
	case SegmentNewToCredit:
		tone = "Keep the tone simple and reassuring; avoid jargon and explain each step."
	case SegmentMidCareer:
		tone = "Keep the tone thorough and family-oriented; emphasize stability and planning."
	case SegmentSelfEmployed:
		tone = "Keep the tone businesslike; acknowledge variable income and documentation needs."
	case SegmentSenior:
		tone = "Keep the tone patient and respectful; offer help with each step."
	}
	return agents.SegmentHint{Name: s.Name, AgeGroup: s.AgeGroup, Tone: tone}
}

var lowIncomeCutoff = decimal.NewFromInt(25000)

// DetermineSegment maps (age, employment type, monthly income) to a segment
// descriptor. Pure and deterministic; income may be nil when unknown.
func DetermineSegment(age int, employmentType string, monthlyIncome *decimal.Decimal) Segment {
	ageGroup := ageGroupFor(age)

	lowIncome := monthlyIncome != nil && monthlyIncome.LessThan(lowIncomeCutoff)

	switch {
	case employmentType == models.EmploymentSelfEmployed || employmentType == models.EmploymentBusinessOwner:
		return Segment{
			Name:             SegmentSelfEmployed,
			AgeGroup:         ageGroup,
			Needs:            []string{"working capital flexibility", "income-proof alternatives"},
			Tags:             []string{"variable_income", "documentation_heavy"},
			UnderwritingHint: "require business financials; income is self-reported",
		}
	case age >= 0 && age < 25, lowIncome:
		return Segment{
			Name:             SegmentNewToCredit,
			AgeGroup:         ageGroup,
			Needs:            []string{"small ticket sizes", "guidance through first loan"},
			Tags:             []string{"thin_file", "first_borrower"},
			UnderwritingHint: "relaxed score floor, guarantor for larger amounts",
		}
	case age >= 25 && age <= 35:
		return Segment{
			Name:             SegmentYoungSalaried,
			AgeGroup:         ageGroup,
			Needs:            []string{"instant decisions", "fully digital journey"},
			Tags:             []string{"salaried", "digital_first"},
			UnderwritingHint: "slightly relaxed score floor, standard EMI ratio",
		}
	case age > 35 && age < 58:
		return Segment{
			Name:             SegmentMidCareer,
			AgeGroup:         ageGroup,
			Needs:            []string{"larger ticket sizes", "predictable EMIs"},
			Tags:             []string{"family_obligations", "established_credit"},
			UnderwritingHint: "stricter score floor, conservative EMI ratio",
		}
	case age >= 58:
		return Segment{
			Name:             SegmentSenior,
			AgeGroup:         ageGroup,
			Needs:            []string{"short tenures", "assisted servicing"},
			Tags:             []string{"near_retirement"},
			UnderwritingHint: "cap tenure by retirement horizon",
		}
	}

	return Segment{
		Name:             SegmentStandard,
		AgeGroup:         ageGroup,
		Needs:            []string{"standard personal loan products"},
		Tags:             []string{"standard"},
		UnderwritingHint: "default thresholds",
	}
}

// SegmentForCustomer derives the segment from a stored customer record.
// Returns ok=false when the customer (or their DOB) is unknown.
func SegmentForCustomer(customer *models.Customer) (Segment, bool) {
	if customer == nil || customer.DateOfBirth == nil {
		return Segment{}, false
	}
	return DetermineSegment(customer.Age(), customer.EmploymentType, customer.MonthlyIncome), true
}

func ageGroupFor(age int) string {
	switch {
	case age < 0:
		return "unknown"
	case age < 25:
		return "under 25"
	case age <= 35:
		return "25-35"
	case age < 58:
		return "36-57"
	default:
		return "58+"
	}
}
