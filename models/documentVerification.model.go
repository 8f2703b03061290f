package models

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Document types recorded on verification attempts
const (
	DocumentPanCard       = "pan_card"
	DocumentAadharCard    = "aadhar_card"
	DocumentSalarySlip    = "salary_slip"
	DocumentSelfie        = "selfie"
	DocumentITR           = "itr"
	DocumentGST           = "gst"
	DocumentBankStatement = "bank_statement"
)

// DocumentVerification is the append-only audit trail of verification
// attempts. Rows are only ever inserted, one per attempt, failures included.
type DocumentVerification struct {
	gorm.Model
	CustomerID *uint // nullable: a rejected PAN upload may precede any customer row
	Customer   *Customer

	DocumentType string `gorm:"size:20;not null"`

	IsVerified        bool `gorm:"default:false"`
	ConfidenceScore   *int
	ExtractedData     datatypes.JSON `gorm:"default:'{}'"`
	VerificationNotes string         `gorm:"default:''"`

	AiModelUsed string `gorm:"size:100;default:''"`
}

func (DocumentVerification) TableName() string {
	return "document_verifications"
}
