package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"loanflow/models"
)

// MasterAgent orchestrates the conversational side of the workflow: greeting,
// identity extraction and the stage prompts up to document upload.
type MasterAgent struct {
	client Completer
}

func NewMasterAgent(client Completer) *MasterAgent {
	return &MasterAgent{client: client}
}

// Greet produces the opening message of a new session.
func (a *MasterAgent) Greet(ctx context.Context) (string, error) {
	messages := []Message{
		{Role: "system", Content: `You are a Master Agent for a loan processing system.
Greet the user warmly and ask for their full name and date of birth to check their customer status.
Keep it brief and professional.`},
		{Role: "user", Content: "Start the conversation"},
	}
	return a.client.Complete(ctx, messages, 0.7)
}

// ExtractNameAndDob pulls the applicant's full name and date of birth from
// the conversation so far.
func (a *MasterAgent) ExtractNameAndDob(ctx context.Context, history []models.ChatMessage) (NameAndDob, error) {
	messages := []Message{
		{Role: "system", Content: `Extract the customer's full name and date of birth from the conversation.
Date of birth may be in DD/MM/YYYY or YYYY-MM-DD format.
Return ONLY a JSON object: {"name": "...", "date_of_birth": "..."}.
Use "NOT_FOUND" for any value that is not clearly present.`},
		{Role: "user", Content: historyText(history)},
	}

	reply, err := a.client.Complete(ctx, messages, 0.3)
	if err != nil {
		return NameAndDob{}, err
	}

	var raw struct {
		Name        string `json:"name"`
		DateOfBirth string `json:"date_of_birth"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &raw); err != nil {
		return NameAndDob{}, nil // unparseable reply is a normal "not found" branch
	}

	result := NameAndDob{}
	if name := strings.TrimSpace(raw.Name); name != "" && name != "NOT_FOUND" {
		result.Name = name
		result.Found = true
	}
	if dob := strings.TrimSpace(raw.DateOfBirth); dob != "" && dob != "NOT_FOUND" {
		result.DateOfBirth = dob
	}
	return result, nil
}

// ExtractPan pulls a PAN-formatted token from the conversation. Tokens that
// fail the fixed pattern are treated as not found.
func (a *MasterAgent) ExtractPan(ctx context.Context, history []models.ChatMessage) (PanToken, error) {
	messages := []Message{
		{Role: "system", Content: `Extract the PAN number from the conversation.
PAN format is: 5 letters, 4 digits, 1 letter (e.g., ABCDE1234F)
Return ONLY the PAN number in uppercase, nothing else.
If no valid PAN is found, return 'NOT_FOUND'.`},
		{Role: "user", Content: historyText(history)},
	}

	reply, err := a.client.Complete(ctx, messages, 0.3)
	if err != nil {
		return PanToken{}, err
	}

	pan := strings.ToUpper(strings.TrimSpace(stripCodeFence(reply)))
	if !PanPattern.MatchString(pan) {
		return PanToken{}, nil
	}
	return PanToken{Pan: pan, Found: true}, nil
}

// RequestPanNumber asks a recognized customer for their PAN.
func (a *MasterAgent) RequestPanNumber(ctx context.Context, customerName string, segment SegmentHint) (string, error) {
	system := fmt.Sprintf(`You are a Master Agent.
Tell the customer '%s' that we found their record.
Ask them to provide their PAN number for verification.
Mention the PAN format (e.g., ABCDE1234F).
Keep it professional and reassuring.%s`, customerName, toneSuffix(segment))

	messages := []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: "Request PAN number"},
	}
	return a.client.Complete(ctx, messages, 0.7)
}

// RequestNewCustomerPan asks a new customer for their PAN.
func (a *MasterAgent) RequestNewCustomerPan(ctx context.Context, segment SegmentHint) (string, error) {
	system := `You are a Master Agent.
The user is a new customer. Ask them to provide their PAN number.
Explain that PAN is mandatory for loan processing.
Mention the format (e.g., ABCDE1234F - 5 letters, 4 digits, 1 letter).
Keep it welcoming and professional.` + toneSuffix(segment)

	messages := []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: "Request PAN from new customer"},
	}
	return a.client.Complete(ctx, messages, 0.7)
}

// RequestPanUpload asks for the PAN card image once the number is collected.
func (a *MasterAgent) RequestPanUpload(ctx context.Context, customerName string, segment SegmentHint) (string, error) {
	system := fmt.Sprintf(`You are a Master Agent.
Tell the customer '%s' that their PAN number has been noted.
Now ask them to upload a clear photo or scan of their PAN card for KYC verification.
Mention that this is for their security and identity verification.
Keep it professional and reassuring.%s`, customerName, toneSuffix(segment))

	messages := []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: "Request PAN card upload"},
	}
	return a.client.Complete(ctx, messages, 0.7)
}

// ThankAndClose produces the closing acknowledgment for terminal stages.
func (a *MasterAgent) ThankAndClose(ctx context.Context) (string, error) {
	messages := []Message{
		{Role: "system", Content: `You are a Master Agent.
Thank the customer for their time and close the conversation professionally.`},
		{Role: "user", Content: "Close the conversation"},
	}
	return a.client.Complete(ctx, messages, 0.7)
}

// JudgeNameMatch asks for a semantic same-person verdict on two names. An
// unparseable reply is reported as a non-match.
func (a *MasterAgent) JudgeNameMatch(ctx context.Context, providedName, extractedName string) (NameJudgment, error) {
	messages := []Message{
		{Role: "system", Content: `You are a name matching expert. Compare two names and determine if they refer to the same person.
Consider variations like:
- Middle names present/absent
- Initials vs full names
- Common nicknames
- Spelling variations

Return JSON: {"matches": true/false, "confidence": 0-100, "reason": "explanation"}`},
		{Role: "user", Content: fmt.Sprintf("Provided name: '%s'\nPAN card name: '%s'\n\nDo these names match?", providedName, extractedName)},
	}

	reply, err := a.client.Complete(ctx, messages, 0.2)
	if err != nil {
		return NameJudgment{}, err
	}

	var judgment NameJudgment
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &judgment); err != nil {
		return NameJudgment{Matches: false, Reason: "Names do not match and verification failed"}, nil
	}
	return judgment, nil
}

// toneSuffix appends segment-aware tone guidance to a system prompt.
func toneSuffix(segment SegmentHint) string {
	if segment.Name == "" {
		return ""
	}
	return fmt.Sprintf("\nThe customer profile is '%s' (%s). %s", segment.Name, segment.AgeGroup, segment.Tone)
}
