package agents

import (
	"context"
	"encoding/json"
	"strings"

	"loanflow/models"

	"github.com/shopspring/decimal"
)

// SalesAgent handles the loan requirement discussion.
type SalesAgent struct {
	client Completer
}

func NewSalesAgent(client Completer) *SalesAgent {
	return &SalesAgent{client: client}
}

// Engage continues the loan conversation, asking for whatever is still
// missing. askFor names the single field the workflow wants next.
func (a *SalesAgent) Engage(ctx context.Context, history []models.ChatMessage, segment SegmentHint, askFor string) (string, error) {
	system := `You are a Sales Agent for personal loans.
Ask the customer about:
1. Loan amount needed
2. Purpose of the loan
3. Preferred tenure (in months)

Be conversational and helpful. Extract this information naturally.`
	if askFor != "" {
		system += "\nAsk only about the customer's " + askFor + " next; do not ask about anything else."
	}
	system += toneSuffix(segment)

	messages := []Message{{Role: "system", Content: system}}
	for _, m := range history {
		messages = append(messages, Message{Role: m.Role, Content: m.Content})
	}
	return a.client.Complete(ctx, messages, 0.7)
}

// ExtractLoanDetails pulls structured loan requirements from the
// conversation. Missing fields are reported through the Has* flags.
func (a *SalesAgent) ExtractLoanDetails(ctx context.Context, history []models.ChatMessage, segment SegmentHint) (LoanDetails, error) {
	messages := []Message{
		{Role: "system", Content: `Extract loan details from the conversation.
Return ONLY a JSON object with:
  loan_amount (number), purpose (string), tenure_months (number),
  employment_type (one of: salaried, self_employed, business_owner, freelancer, gig_worker, other),
  monthly_income (number), existing_obligations (string).
If any information is missing, return null for that field.`},
		{Role: "user", Content: historyText(history)},
	}

	reply, err := a.client.Complete(ctx, messages, 0.3)
	if err != nil {
		return LoanDetails{}, err
	}

	var raw struct {
		LoanAmount     *json.Number `json:"loan_amount"`
		Purpose        *string      `json:"purpose"`
		TenureMonths   *json.Number `json:"tenure_months"`
		EmploymentType *string      `json:"employment_type"`
		MonthlyIncome  *json.Number `json:"monthly_income"`
		Obligations    *string      `json:"existing_obligations"`
	}
	dec := json.NewDecoder(strings.NewReader(stripCodeFence(reply)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return LoanDetails{}, nil // unparseable extraction is the "not found" branch
	}

	details := LoanDetails{}
	if raw.LoanAmount != nil {
		if amount, err := decimal.NewFromString(raw.LoanAmount.String()); err == nil && amount.IsPositive() {
			details.Amount = amount
			details.HasAmount = true
		}
	}
	if raw.Purpose != nil && strings.TrimSpace(*raw.Purpose) != "" {
		details.Purpose = strings.TrimSpace(*raw.Purpose)
		details.HasPurpose = true
	}
	if raw.TenureMonths != nil {
		if tenure, err := raw.TenureMonths.Int64(); err == nil && tenure > 0 {
			details.TenureMonths = int(tenure)
			details.HasTenure = true
		}
	}
	if raw.EmploymentType != nil && strings.TrimSpace(*raw.EmploymentType) != "" {
		details.EmploymentType = strings.TrimSpace(*raw.EmploymentType)
		details.HasEmployment = true
	}
	if raw.MonthlyIncome != nil {
		if income, err := decimal.NewFromString(raw.MonthlyIncome.String()); err == nil && income.IsPositive() {
			details.MonthlyIncome = income
			details.HasIncome = true
		}
	}
	if raw.Obligations != nil {
		details.Obligations = strings.TrimSpace(*raw.Obligations)
	}
	return details, nil
}
