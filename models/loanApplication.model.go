package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Loan application status values
const (
	LoanStatusPending     = "pending"
	LoanStatusUnderReview = "under_review"
	LoanStatusApproved    = "approved"
	LoanStatusRejected    = "rejected"
	LoanStatusDisbursed   = "disbursed"
)

type LoanApplication struct {
	gorm.Model
	CustomerID uint     `gorm:"not null"`
	Customer   Customer `gorm:"constraint:OnDelete:CASCADE"`

	Amount       decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Purpose      string          `gorm:"size:500;not null"`
	TenureMonths int             `gorm:"not null"`
	Status       string          `gorm:"size:20;default:'pending'"`

	// Segment captured at creation time, never recomputed afterwards
	CustomerSegmentSnapshot string `gorm:"size:100;default:''"`

	ApprovalReason  string `gorm:"default:''"`
	RejectionReason string `gorm:"default:''"`

	// Underwriting metrics recorded for audit
	CreditScoreThresholdUsed *int
	EmiRatioThresholdUsed    *decimal.Decimal `gorm:"type:numeric(5,2)"`

	// Uploaded salary document, stored inline
	SalarySlipName        string `gorm:"default:''"`
	SalarySlipContent     []byte
	SalarySlipContentType string `gorm:"size:64;default:''"`
	SalarySlipSize        int64  `gorm:"default:0"`

	// Generated sanction letter artifact
	SanctionLetterName        string `gorm:"default:''"`
	SanctionLetterContent     []byte
	SanctionLetterContentType string `gorm:"size:64;default:''"`

	AppliedAt  time.Time `gorm:"autoCreateTime"`
	ApprovedAt *time.Time
	RejectedAt *time.Time
}

func (LoanApplication) TableName() string {
	return "loan_applications"
}

// IsTerminal reports whether the application reached a final status. Amount,
// purpose and tenure are immutable once this is true.
func (a *LoanApplication) IsTerminal() bool {
	return a.Status == LoanStatusApproved || a.Status == LoanStatusRejected
}

// Approve marks the application approved with the given reason.
func (a *LoanApplication) Approve(reason string) {
	now := time.Now()
	a.Status = LoanStatusApproved
	a.ApprovalReason = reason
	a.ApprovedAt = &now
}

// Reject marks the application rejected with the given reason.
func (a *LoanApplication) Reject(reason string) {
	now := time.Now()
	a.Status = LoanStatusRejected
	a.RejectionReason = reason
	a.RejectedAt = &now
}

// MonthlyEMI returns the flat per-month installment for the requested terms.
func (a *LoanApplication) MonthlyEMI() decimal.Decimal {
	if a.TenureMonths <= 0 {
		return decimal.Zero
	}
	return a.Amount.Div(decimal.NewFromInt(int64(a.TenureMonths))).Round(2)
}
