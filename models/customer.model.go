package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Employment type values stored on Customer.EmploymentType
const (
	EmploymentSalaried      = "salaried"
	EmploymentSelfEmployed  = "self_employed"
	EmploymentBusinessOwner = "business_owner"
	EmploymentFreelancer    = "freelancer"
	EmploymentGigWorker     = "gig_worker"
	EmploymentOther         = "other"
)

type Customer struct {
	gorm.Model
	Name        string `gorm:"not null"`
	Pan         string `gorm:"size:10;unique;not null"`
	DateOfBirth *time.Time
	Phone       string `gorm:"default:''"`
	Email       string `gorm:"default:''"`

	// Financial information
	CreditScore      int             `gorm:"default:0"`
	PreApprovedLimit decimal.Decimal `gorm:"type:numeric(12,2);default:0"`

	// Employment & income details used for segmentation
	EmploymentType string           `gorm:"size:20;default:''"`
	MonthlyIncome  *decimal.Decimal `gorm:"type:numeric(12,2)"`
	CompanyName    string           `gorm:"default:''"`

	// Cached segment, recomputed on demand
	CustomerSegment     string `gorm:"size:100;default:''"`
	SegmentCalculatedAt *time.Time

	// KYC verification flags. PanVerified is never cleared outside an explicit reset.
	PanVerified               bool `gorm:"default:false"`
	PanVerificationConfidence *int
	PanVerificationDate       *time.Time
	FaceMatchVerified         bool `gorm:"default:false"`
	FaceMatchConfidence       *int

	LoanApplications []LoanApplication      `gorm:"constraint:OnDelete:CASCADE"`
	Verifications    []DocumentVerification `gorm:"constraint:OnDelete:CASCADE"`
}

func (Customer) TableName() string {
	return "customers"
}

// Age returns the customer's age in full years, or -1 when DOB is unknown.
func (c *Customer) Age() int {
	return AgeAt(c.DateOfBirth, time.Now())
}

// AgeAt computes full years between dob and ref, -1 when dob is nil.
func AgeAt(dob *time.Time, ref time.Time) int {
	if dob == nil {
		return -1
	}
	age := ref.Year() - dob.Year()
	if ref.Month() < dob.Month() || (ref.Month() == dob.Month() && ref.Day() < dob.Day()) {
		age--
	}
	return age
}
