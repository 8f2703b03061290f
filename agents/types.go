package agents

import (
	"regexp"

	"github.com/shopspring/decimal"
)

// PanPattern is the fixed Indian PAN format: 5 letters, 4 digits, 1 letter.
var PanPattern = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)

// SegmentHint carries the advisory segment descriptor used to tailor prompt
// tone and ordering. It never changes which fields are mandatory.
type SegmentHint struct {
	Name     string
	AgeGroup string
	Tone     string
}

// NameAndDob is the typed result of the name/date-of-birth extraction pass.
// Found is false when the conversation holds no usable name.
type NameAndDob struct {
	Name        string
	DateOfBirth string // as spoken: DD/MM/YYYY or YYYY-MM-DD, empty when absent
	Found       bool
}

// PanToken is the typed result of the PAN extraction pass. Found is true only
// for tokens matching PanPattern.
type PanToken struct {
	Pan   string
	Found bool
}

// LoanDetails is the typed result of the loan-detail extraction pass. The
// Has* flags replace the original's null sentinels.
type LoanDetails struct {
	Amount         decimal.Decimal
	Purpose        string
	TenureMonths   int
	EmploymentType string
	MonthlyIncome  decimal.Decimal
	Obligations    string

	HasAmount     bool
	HasPurpose    bool
	HasTenure     bool
	HasEmployment bool
	HasIncome     bool
}

// Complete reports whether all three mandatory fields are present.
func (d LoanDetails) Complete() bool {
	return d.HasAmount && d.HasPurpose && d.HasTenure
}

// PanVerification is the document oracle's verdict on a PAN card image.
type PanVerification struct {
	IsValidPanCard    bool   `json:"is_valid_pan_card"`
	PanNumber         string `json:"pan_number"`
	NameOnCard        string `json:"name_on_card"`
	FathersName       string `json:"fathers_name"`
	DateOfBirth       string `json:"date_of_birth"`
	ImageQuality      string `json:"image_quality"`
	TamperingDetected bool   `json:"tampering_detected"`
	ConfidenceScore   int    `json:"confidence_score"`
	Notes             string `json:"verification_notes"`
}

// FaceMatch is the document oracle's verdict on a selfie vs PAN photo pair.
type FaceMatch struct {
	FacesMatch      bool     `json:"faces_match"`
	ConfidenceScore int      `json:"confidence_score"`
	MatchQuality    string   `json:"match_quality"`
	FeaturesMatched []string `json:"facial_features_matched"`
	Notes           string   `json:"verification_notes"`
	Recommendation  string   `json:"recommendation"`
}

// NameJudgment is the semantic same-person verdict for two names.
type NameJudgment struct {
	Matches    bool   `json:"matches"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
}
