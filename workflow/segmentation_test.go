package workflow

import (
	"testing"
	"time"

	"loanflow/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestDetermineSegment(t *testing.T) {
	tests := []struct {
		name       string
		age        int
		employment string
		income     *decimal.Decimal
		segment    string
		ageGroup   string
	}{
		{"self employed beats age", 30, models.EmploymentSelfEmployed, decPtr(80000), SegmentSelfEmployed, "25-35"},
		{"business owner grouped with self employed", 45, models.EmploymentBusinessOwner, nil, SegmentSelfEmployed, "36-57"},
		{"under 25 is new to credit", 22, models.EmploymentSalaried, decPtr(50000), SegmentNewToCredit, "under 25"},
		{"low income is new to credit regardless of age", 40, models.EmploymentSalaried, decPtr(20000), SegmentNewToCredit, "36-57"},
		{"income at cutoff is not low income", 40, models.EmploymentSalaried, decPtr(25000), SegmentMidCareer, "36-57"},
		{"25 to 35 young salaried", 28, models.EmploymentSalaried, decPtr(60000), SegmentYoungSalaried, "25-35"},
		{"age 35 still young salaried", 35, "", nil, SegmentYoungSalaried, "25-35"},
		{"36 to 57 mid career", 36, models.EmploymentSalaried, decPtr(90000), SegmentMidCareer, "36-57"},
		{"58 and over senior", 60, "", nil, SegmentSenior, "58+"},
		{"unknown age standard", -1, "", nil, SegmentStandard, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segment := DetermineSegment(tt.age, tt.employment, tt.income)
			assert.Equal(t, tt.segment, segment.Name)
			assert.Equal(t, tt.ageGroup, segment.AgeGroup)
		})
	}
}

func TestDetermineSegmentIsDeterministic(t *testing.T) {
	first := DetermineSegment(30, models.EmploymentSalaried, decPtr(50000))
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, DetermineSegment(30, models.EmploymentSalaried, decPtr(50000)))
	}
}

func TestSegmentForCustomer(t *testing.T) {
	_, ok := SegmentForCustomer(nil)
	require.False(t, ok)

	_, ok = SegmentForCustomer(&models.Customer{Name: "No Dob"})
	require.False(t, ok)

	dob := time.Now().AddDate(-30, 0, 0)
	segment, ok := SegmentForCustomer(&models.Customer{
		Name:        "Ravi Kumar",
		DateOfBirth: &dob,
	})
	require.True(t, ok)
	assert.Equal(t, SegmentYoungSalaried, segment.Name)
}

func TestSegmentHintTone(t *testing.T) {
	young := DetermineSegment(28, "", nil).Hint()
	assert.Equal(t, SegmentYoungSalaried, young.Name)
	assert.Contains(t, young.Tone, "upbeat")

	standard := DetermineSegment(-1, "", nil).Hint()
	assert.Contains(t, standard.Tone, "professional")
}
