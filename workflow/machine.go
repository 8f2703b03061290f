package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"loanflow/agents"
	"loanflow/models"
	"loanflow/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// faceMatchMinConfidence is the numeric floor enforced on top of the oracle's
// boolean flag. Deliberately lenient; confirm with product before changing.
const faceMatchMinConfidence = 20

// Defaults assigned to newly created customers until a bureau pull exists.
var (
	defaultCreditScore      = 750
	defaultPreApprovedLimit = decimal.NewFromInt(100000)
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoCustomer      = errors.New("no customer on session")
	ErrNoApplication   = errors.New("no loan application found")
)

// MasterOracle is the conversational extraction/prompting capability.
type MasterOracle interface {
	Greet(ctx context.Context) (string, error)
	ExtractNameAndDob(ctx context.Context, history []models.ChatMessage) (agents.NameAndDob, error)
	ExtractPan(ctx context.Context, history []models.ChatMessage) (agents.PanToken, error)
	RequestPanNumber(ctx context.Context, customerName string, segment agents.SegmentHint) (string, error)
	RequestNewCustomerPan(ctx context.Context, segment agents.SegmentHint) (string, error)
	RequestPanUpload(ctx context.Context, customerName string, segment agents.SegmentHint) (string, error)
	ThankAndClose(ctx context.Context) (string, error)
	JudgeNameMatch(ctx context.Context, providedName, extractedName string) (agents.NameJudgment, error)
}

// SalesOracle drives the loan requirement discussion.
type SalesOracle interface {
	Engage(ctx context.Context, history []models.ChatMessage, segment agents.SegmentHint, askFor string) (string, error)
	ExtractLoanDetails(ctx context.Context, history []models.ChatMessage, segment agents.SegmentHint) (agents.LoanDetails, error)
}

// DocumentOracle is the vision verification capability.
type DocumentOracle interface {
	VerifyPanCard(ctx context.Context, image []byte, mime, expectedName, expectedPan string) (agents.PanVerification, error)
	MatchFaces(ctx context.Context, selfie []byte, selfieMime string, panImage []byte, panMime string) (agents.FaceMatch, error)
	VerificationReport(ctx context.Context, verdict agents.PanVerification) (string, error)
	MatchReport(ctx context.Context, verdict agents.FaceMatch) (string, error)
}

// TurnResult is the outcome of one free-text turn.
type TurnResult struct {
	Message        string
	Agent          string
	Stage          Stage
	SessionID      string
	RequiresUpload bool
	UploadType     string
	SegmentName    string
	AgeGroup       string
	LoanID         uint
}

// UploadResult is the outcome of one document submission.
type UploadResult struct {
	Message        string
	NextMessage    string
	Verified       bool
	Retry          bool
	Stage          Stage
	RequiresUpload bool
	UploadType     string
	SegmentName    string
	LoanID         uint
	Data           map[string]interface{}
}

// Machine orchestrates the loan-origination workflow, one request at a time.
// It is not internally reentrant, so concurrent turns against the same
// session are serialized on a per-session lock.
type Machine struct {
	db        *gorm.DB
	master    MasterOracle
	sales     SalesOracle
	docs      DocumentOracle
	modelName string // recorded on audit rows

	locks sync.Map // session UUID -> *sync.Mutex
}

// NewMachine wires the state machine with its injected oracles.
func NewMachine(db *gorm.DB, master MasterOracle, sales SalesOracle, docs DocumentOracle, modelName string) *Machine {
	return &Machine{db: db, master: master, sales: sales, docs: docs, modelName: modelName}
}

func (m *Machine) lock(sessionID string) func() {
	muAny, _ := m.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

const retryMessage = "I'm having trouble processing that right now. Please try again in a moment."

// BeginSession creates a session in the greeting stage and returns the
// opening message. A failed greeting call falls back to a canned line so
// session creation never depends on the oracle.
func (m *Machine) BeginSession(ctx context.Context) (*models.ChatSession, string, error) {
	greeting, err := m.master.Greet(ctx)
	if err != nil {
		log.Printf("[WORKFLOW] greeting agent failed, using fallback: %v", err)
		greeting = "Welcome to Kite Capital! I'm here to help with your loan application. May I have your full name and date of birth to get started?"
	}

	session := &models.ChatSession{
		SessionID: uuid.NewString(),
		Stage:     string(StageGreeting),
	}
	if err := session.AppendMessage("assistant", greeting, "master"); err != nil {
		return nil, "", err
	}
	if err := m.db.Create(session).Error; err != nil {
		return nil, "", err
	}
	return session, greeting, nil
}

// Advance processes one free-text turn against the session's current stage.
func (m *Machine) Advance(ctx context.Context, sessionID, userText string) (TurnResult, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	var session models.ChatSession
	if err := m.db.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return TurnResult{}, ErrSessionNotFound
		}
		return TurnResult{}, err
	}

	stage, known := ParseStage(session.Stage)
	if !known {
		log.Printf("[WORKFLOW] anomaly: session %s carried unknown stage %q, resetting to greeting", sessionID, session.Stage)
		session.Stage = string(StageGreeting)
		if err := session.AppendMessage("user", userText, ""); err != nil {
			return TurnResult{}, err
		}
		response := "Something went wrong. Let's start over. What's your name and date of birth?"
		if err := session.AppendMessage("assistant", response, "master"); err != nil {
			return TurnResult{}, err
		}
		if err := m.db.Save(&session).Error; err != nil {
			return TurnResult{}, err
		}
		return TurnResult{Message: response, Agent: "master", Stage: StageGreeting, SessionID: sessionID}, nil
	}

	customer, orphaned := m.loadCustomer(&session)
	if orphaned {
		// Customer row was deleted under the session; fail gracefully and restart.
		log.Printf("[WORKFLOW] anomaly: session %s references a deleted customer, restarting", sessionID)
		session.CustomerID = nil
		session.ClearStagedPanImage()
		session.Stage = string(StageGreeting)
		if err := session.AppendMessage("user", userText, ""); err != nil {
			return TurnResult{}, err
		}
		response := "We could no longer find your records, so let's start fresh. What's your name and date of birth?"
		if err := session.AppendMessage("assistant", response, "master"); err != nil {
			return TurnResult{}, err
		}
		if err := m.db.Save(&session).Error; err != nil {
			return TurnResult{}, err
		}
		return TurnResult{Message: response, Agent: "master", Stage: StageGreeting, SessionID: sessionID}, nil
	}

	if err := session.AppendMessage("user", userText, ""); err != nil {
		return TurnResult{}, err
	}
	history := session.Messages()

	segment, haveSegment := m.segmentForSession(&session, customer)

	result := TurnResult{Agent: "master", Stage: stage, SessionID: sessionID}
	if haveSegment {
		result.SegmentName = segment.Name
		result.AgeGroup = segment.AgeGroup
	}

	var err error
	switch stage {
	case StageGreeting, StageNameCollection:
		err = m.advanceIdentity(ctx, &session, history, &result)
	case StagePanCollection:
		err = m.advancePanCollection(ctx, &session, history, segment, haveSegment, &result)
	case StagePanVerification:
		result.Message = "Please use the upload button above to submit your PAN card image for verification."
		result.RequiresUpload = true
		result.UploadType = models.DocumentPanCard
	case StageSelfieVerification:
		result.Message = "Please use the upload button above to take and submit a live selfie for face verification."
		result.RequiresUpload = true
		result.UploadType = models.DocumentSelfie
	case StageLoanDetails:
		err = m.advanceLoanDetails(ctx, &session, customer, history, segment, &result)
	case StageSalaryVerification:
		result.Agent = "underwriting"
		result.Message = "Please upload your salary slip using the upload button above."
		result.RequiresUpload = true
		result.UploadType = models.DocumentSalarySlip
	case StageCompleted, StageRejected:
		closing, closeErr := m.master.ThankAndClose(ctx)
		if closeErr != nil {
			closing = "Thank you for banking with Kite Capital. Have a great day!"
		}
		result.Message = closing
	}
	if err != nil {
		return TurnResult{}, err
	}

	if err := session.AppendMessage("assistant", result.Message, result.Agent); err != nil {
		return TurnResult{}, err
	}
	if !CanTransition(stage, result.Stage) {
		log.Printf("[WORKFLOW] anomaly: illegal transition %s -> %s blocked for session %s", stage, result.Stage, sessionID)
		result.Stage = stage
	}
	session.Stage = string(result.Stage)
	if err := m.db.Save(&session).Error; err != nil {
		return TurnResult{}, err
	}
	return result, nil
}

// advanceIdentity handles the greeting/name_collection stages.
func (m *Machine) advanceIdentity(ctx context.Context, session *models.ChatSession, history []models.ChatMessage, result *TurnResult) error {
	extracted, err := m.master.ExtractNameAndDob(ctx, history)
	if err != nil {
		log.Printf("[WORKFLOW] name extraction failed: %v", err)
		result.Message = retryMessage
		return nil
	}

	if !extracted.Found {
		result.Message = "I didn't catch your name and date of birth. Could you please provide your full name and date of birth (DD/MM/YYYY or YYYY-MM-DD)?"
		result.Stage = StageNameCollection
		return nil
	}

	session.CustomerName = extracted.Name

	hint := agents.SegmentHint{}
	if extracted.DateOfBirth != "" {
		session.TempDateOfBirth = extracted.DateOfBirth
		// Segment is computable from the transient DOB before any customer row exists
		if dob := parseDOB(extracted.DateOfBirth); dob != nil {
			segment := DetermineSegment(models.AgeAt(dob, time.Now()), "", nil)
			hint = segment.Hint()
			result.SegmentName = segment.Name
			result.AgeGroup = segment.AgeGroup
		}
	}

	var existing models.Customer
	lookupErr := m.db.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(extracted.Name)+"%").First(&existing).Error

	result.Stage = StagePanCollection
	if lookupErr == nil {
		if seg, ok := SegmentForCustomer(&existing); ok {
			hint = seg.Hint()
			result.SegmentName = seg.Name
			result.AgeGroup = seg.AgeGroup
		}
		message, promptErr := m.master.RequestPanNumber(ctx, existing.Name, hint)
		if promptErr != nil {
			message = fmt.Sprintf("Welcome back, %s! Please share your PAN number (format: ABCDE1234F) so we can verify your record.", existing.Name)
		}
		result.Message = message
		return nil
	}

	message, promptErr := m.master.RequestNewCustomerPan(ctx, hint)
	if promptErr != nil {
		message = "Thanks! To process your loan we need your PAN number (format: ABCDE1234F - 5 letters, 4 digits, 1 letter). PAN is mandatory for loan processing."
	}
	result.Message = message
	return nil
}

// advancePanCollection handles the pan_collection stage.
func (m *Machine) advancePanCollection(ctx context.Context, session *models.ChatSession, history []models.ChatMessage, segment Segment, haveSegment bool, result *TurnResult) error {
	token, err := m.master.ExtractPan(ctx, history)
	if err != nil {
		log.Printf("[WORKFLOW] PAN extraction failed: %v", err)
		result.Message = retryMessage
		return nil
	}

	if !token.Found {
		result.Message = "I couldn't find a valid PAN number in your message. " +
			"Please provide your PAN number in the format: ABCDE1234F (5 letters, 4 digits, 1 letter)"
		return nil
	}

	hint := agents.SegmentHint{}
	if haveSegment {
		hint = segment.Hint()
	}

	// Existing customers must still re-prove possession by uploading the card
	var existing models.Customer
	if err := m.db.Where("pan = ?", token.Pan).First(&existing).Error; err == nil {
		session.CustomerID = &existing.ID
		if seg, ok := SegmentForCustomer(&existing); ok {
			hint = seg.Hint()
			result.SegmentName = seg.Name
			result.AgeGroup = seg.AgeGroup
		}
		message, promptErr := m.master.RequestPanUpload(ctx, existing.Name, hint)
		if promptErr != nil {
			message = fmt.Sprintf("Thank you, %s! Please upload a clear photo of your PAN card (%s) for verification.", existing.Name, token.Pan)
		}
		result.Message = message
	} else {
		result.Message = fmt.Sprintf(
			"Thank you! Now please upload a clear photo of your PAN card (%s) for verification. This helps us ensure secure processing.",
			token.Pan,
		)
	}

	result.Stage = StagePanVerification
	result.RequiresUpload = true
	result.UploadType = models.DocumentPanCard
	return nil
}

// advanceLoanDetails handles the loan_details stage: collect the mandatory
// fields one question at a time, then underwrite.
func (m *Machine) advanceLoanDetails(ctx context.Context, session *models.ChatSession, customer *models.Customer, history []models.ChatMessage, segment Segment, result *TurnResult) error {
	result.Agent = "sales"
	hint := segment.Hint()

	details, err := m.sales.ExtractLoanDetails(ctx, history, hint)
	if err != nil {
		log.Printf("[WORKFLOW] loan detail extraction failed: %v", err)
		result.Message = retryMessage
		return nil
	}

	if !details.Complete() {
		message, engageErr := m.sales.Engage(ctx, history, hint, nextMissingField(details))
		if engageErr != nil {
			message = retryMessage
		}
		result.Message = message
		return nil
	}

	if customer == nil {
		// Loan details reached without a verified customer. Recoverable:
		// redirect back to PAN verification.
		result.Message = "Please complete PAN verification first."
		result.Stage = StagePanVerification
		result.RequiresUpload = true
		result.UploadType = models.DocumentPanCard
		return nil
	}

	// Persist newly learned employment/income in one write
	updated := false
	if details.HasEmployment && customer.EmploymentType == "" {
		customer.EmploymentType = details.EmploymentType
		updated = true
	}
	if details.HasIncome && customer.MonthlyIncome == nil {
		income := details.MonthlyIncome
		customer.MonthlyIncome = &income
		updated = true
	}

	segment, ok := SegmentForCustomer(customer)
	if !ok {
		segment = DetermineSegment(customer.Age(), customer.EmploymentType, customer.MonthlyIncome)
	}
	if refreshSegment(customer, segment) || updated {
		if err := m.db.Save(customer).Error; err != nil {
			return err
		}
	}
	result.SegmentName = segment.Name
	result.AgeGroup = segment.AgeGroup
	hint = segment.Hint()

	decision := Assess(customer, details.Amount, details.TenureMonths, segment)
	if decision.Outcome != OutcomeRejected && customer.MonthlyIncome != nil {
		if ok, reason := ValidateAffordability(*customer.MonthlyIncome, details.Amount, details.TenureMonths, segment); !ok {
			decision = Decision{
				Outcome:              OutcomeRejected,
				Reason:               reason,
				CreditScoreThreshold: decision.CreditScoreThreshold,
				EmiRatio:             decision.EmiRatio,
			}
		}
	}

	app := models.LoanApplication{
		CustomerID:              customer.ID,
		Amount:                  details.Amount,
		Purpose:                 details.Purpose,
		TenureMonths:            details.TenureMonths,
		Status:                  models.LoanStatusUnderReview,
		CustomerSegmentSnapshot: segment.Name,
	}
	threshold := decision.CreditScoreThreshold
	ratio := decision.EmiRatio
	app.CreditScoreThresholdUsed = &threshold
	app.EmiRatioThresholdUsed = &ratio

	result.Agent = "underwriting"

	switch decision.Outcome {
	case OutcomeApproved:
		app.Approve(decision.Reason)
		name, content, contentType := utils.GenerateSanctionLetter(&app, customer, segment.Name)
		app.SanctionLetterName = name
		app.SanctionLetterContent = content
		app.SanctionLetterContentType = contentType
		result.Message = fmt.Sprintf(
			"🎉 Congratulations! Your loan of ₹%s has been approved! %s. Your sanction letter is ready for download.",
			details.Amount.StringFixed(2), decision.Reason,
		)
		result.Stage = StageCompleted

	case OutcomePendingSalarySlip:
		result.Message = fmt.Sprintf(
			"Your loan requires additional verification. %s. Please upload your latest salary slip to proceed.",
			decision.Reason,
		)
		result.Stage = StageSalaryVerification
		result.RequiresUpload = true
		result.UploadType = models.DocumentSalarySlip

	case OutcomePendingBusinessDocs:
		result.Message = fmt.Sprintf(
			"As a self-employed professional, we need additional documentation. %s. Please prepare: %s. "+
				"You can upload your salary slip for now, and we'll guide you through the rest.",
			decision.Reason, strings.Join(decision.RequiredDocs, ", "),
		)
		result.Stage = StageSalaryVerification
		result.RequiresUpload = true
		result.UploadType = models.DocumentSalarySlip

	case OutcomePendingGuarantor:
		result.Message = fmt.Sprintf(
			"%s. This is standard for first-time borrowers. For now, please upload your salary slip, and we'll discuss guarantor details.",
			decision.Reason,
		)
		result.Stage = StageSalaryVerification
		result.RequiresUpload = true
		result.UploadType = models.DocumentSalarySlip

	case OutcomeRejected:
		app.Reject(decision.Reason)
		result.Message = fmt.Sprintf(
			"I'm sorry, but your loan application cannot be approved at this time. Reason: %s",
			decision.Reason,
		)
		result.Stage = StageRejected
	}

	if err := m.db.Create(&app).Error; err != nil {
		return err
	}
	result.LoanID = app.ID
	return nil
}

// SubmitDocument routes an uploaded document to the verification branch the
// session is waiting on. Input validation (type/size) happens upstream,
// before any oracle call.
func (m *Machine) SubmitDocument(ctx context.Context, sessionID, kind string, data []byte, contentType string) (UploadResult, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	var session models.ChatSession
	if err := m.db.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return UploadResult{}, ErrSessionNotFound
		}
		return UploadResult{}, err
	}

	switch kind {
	case models.DocumentPanCard:
		return m.submitPanCard(ctx, &session, data, contentType)
	case models.DocumentSelfie:
		return m.submitSelfie(ctx, &session, data, contentType)
	case models.DocumentSalarySlip:
		return m.submitSalarySlip(ctx, &session, data, contentType)
	}
	return UploadResult{}, fmt.Errorf("unsupported document kind %q", kind)
}

// submitPanCard verifies an uploaded PAN card image and resolves the
// customer identity on success.
func (m *Machine) submitPanCard(ctx context.Context, session *models.ChatSession, data []byte, contentType string) (UploadResult, error) {
	if session.CustomerName == "" {
		return UploadResult{}, fmt.Errorf("%w: customer name not collected yet", ErrNoCustomer)
	}

	history := session.Messages()
	expectedPan := ""
	if token, err := m.master.ExtractPan(ctx, history); err == nil && token.Found {
		expectedPan = token.Pan
	}

	// Stage the card for the later face-match step; purged again on failure.
	session.TempPanImage = data
	session.TempPanImageMime = contentType

	verdict, err := m.docs.VerifyPanCard(ctx, data, contentType, session.CustomerName, expectedPan)
	if err != nil {
		log.Printf("[WORKFLOW] PAN verification call failed: %v", err)
		session.ClearStagedPanImage()
		if saveErr := m.db.Save(session).Error; saveErr != nil {
			return UploadResult{}, saveErr
		}
		m.recordVerification(session.CustomerID, models.DocumentPanCard, false, nil, nil,
			fmt.Sprintf("verification error: %v", err))
		return UploadResult{
			Message: retryMessage,
			Retry:   true,
			Stage:   Stage(session.Stage),
		}, nil
	}

	failure := m.panFailureReason(ctx, session, verdict, expectedPan)
	if failure != "" {
		session.ClearStagedPanImage()
		confidence := verdict.ConfidenceScore
		m.recordVerification(session.CustomerID, models.DocumentPanCard, false, &confidence, verdict, failure)
		if err := m.db.Save(session).Error; err != nil {
			return UploadResult{}, err
		}
		return UploadResult{
			Message: failure,
			Retry:   true,
			Stage:   Stage(session.Stage),
		}, nil
	}

	customer, isExisting, err := m.resolvePanCustomer(session, verdict)
	if err != nil {
		return UploadResult{}, err
	}

	confidence := verdict.ConfidenceScore
	m.recordVerification(&customer.ID, models.DocumentPanCard, true, &confidence, verdict, verdict.Notes)

	segment, haveSegment := SegmentForCustomer(customer)
	if haveSegment && refreshSegment(customer, segment) {
		if err := m.db.Save(customer).Error; err != nil {
			return UploadResult{}, err
		}
	}

	session.CustomerID = &customer.ID
	session.Stage = string(StageSelfieVerification)

	report, reportErr := m.docs.VerificationReport(ctx, verdict)
	if reportErr != nil {
		report = "Your PAN card has been verified successfully."
	}
	selfiePrompt := selfiePromptFor(segment, haveSegment)

	if err := session.AppendMessage("assistant", report, "verification"); err != nil {
		return UploadResult{}, err
	}
	if err := session.AppendMessage("assistant", selfiePrompt, "verification"); err != nil {
		return UploadResult{}, err
	}
	if err := m.db.Save(session).Error; err != nil {
		return UploadResult{}, err
	}

	result := UploadResult{
		Message:        report,
		NextMessage:    selfiePrompt,
		Verified:       true,
		Stage:          StageSelfieVerification,
		RequiresUpload: true,
		UploadType:     models.DocumentSelfie,
		Data: map[string]interface{}{
			"pan_number":           verdict.PanNumber,
			"name":                 verdict.NameOnCard,
			"confidence_score":     verdict.ConfidenceScore,
			"is_existing_customer": isExisting,
		},
	}
	if haveSegment {
		result.SegmentName = segment.Name
		result.Data["customer_segment"] = segment.Name
		result.Data["age_group"] = segment.AgeGroup
	}
	return result, nil
}

// panFailureReason applies the PAN decision policy in order: invalid card,
// PAN mismatch, then the name-match policy. Empty string means pass.
func (m *Machine) panFailureReason(ctx context.Context, session *models.ChatSession, verdict agents.PanVerification, expectedPan string) string {
	if !verdict.IsValidPanCard {
		notes := verdict.Notes
		if notes == "" {
			notes = "Invalid PAN card detected"
		}
		return fmt.Sprintf("PAN card verification failed: %s. Please upload a clearer image and try again.", notes)
	}

	extractedPan := strings.ToUpper(strings.TrimSpace(verdict.PanNumber))
	if !agents.PanPattern.MatchString(extractedPan) {
		return "We couldn't read a valid PAN number from the card. Please upload a clearer image."
	}
	if expectedPan != "" && extractedPan != expectedPan {
		return fmt.Sprintf("PAN number mismatch. The PAN on your card doesn't match the one you provided (%s). Please check and try again.", expectedPan)
	}

	// Name-match policy: exact, then token overlap, then semantic judgment
	match, decided := MatchNamesLexical(session.CustomerName, verdict.NameOnCard)
	if !decided {
		judgment, err := m.master.JudgeNameMatch(ctx, session.CustomerName, verdict.NameOnCard)
		if err != nil {
			// A failed semantic check is treated as a non-match, never a pass
			judgment = agents.NameJudgment{Matches: false, Reason: "name verification unavailable"}
		}
		match = NameMatchResult{Matches: judgment.Matches, Confidence: judgment.Confidence, Reason: judgment.Reason}
	}
	if !match.Matches {
		return fmt.Sprintf("Name verification failed: %s. Please ensure the PAN card belongs to you.", match.Reason)
	}
	return ""
}

// resolvePanCustomer finds or creates the customer for a passing PAN verdict.
func (m *Machine) resolvePanCustomer(session *models.ChatSession, verdict agents.PanVerification) (*models.Customer, bool, error) {
	pan := strings.ToUpper(strings.TrimSpace(verdict.PanNumber))
	now := time.Now()
	confidence := verdict.ConfidenceScore

	var customer models.Customer
	err := m.db.Where("pan = ?", pan).First(&customer).Error
	if err == nil {
		customer.PanVerified = true
		customer.PanVerificationConfidence = &confidence
		customer.PanVerificationDate = &now
		if customer.DateOfBirth == nil {
			if dob := parseDOB(verdict.DateOfBirth); dob != nil {
				customer.DateOfBirth = dob
			}
		}
		if err := m.db.Save(&customer).Error; err != nil {
			return nil, false, err
		}
		return &customer, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	// New customer: prefer the DOB spoken earlier in the conversation, then
	// the one printed on the card.
	dob := parseDOB(session.TempDateOfBirth)
	if dob == nil {
		dob = parseDOB(verdict.DateOfBirth)
	}

	customer = models.Customer{
		Name:                      verdict.NameOnCard,
		Pan:                       pan,
		DateOfBirth:               dob,
		PanVerified:               true,
		PanVerificationConfidence: &confidence,
		PanVerificationDate:       &now,
		CreditScore:               defaultCreditScore, // placeholder until a bureau integration exists
		PreApprovedLimit:          defaultPreApprovedLimit,
	}
	if err := m.db.Create(&customer).Error; err != nil {
		return nil, false, err
	}
	return &customer, false, nil
}

// submitSelfie runs the face match against the staged PAN card image.
func (m *Machine) submitSelfie(ctx context.Context, session *models.ChatSession, data []byte, contentType string) (UploadResult, error) {
	customer, orphaned := m.loadCustomer(session)
	if customer == nil || orphaned || !customer.PanVerified {
		return UploadResult{}, fmt.Errorf("%w: PAN card verification not completed", ErrNoCustomer)
	}

	if !session.HasStagedPanImage() {
		// Fail closed: without the staged card there is nothing to match
		// against. Redirect back to PAN re-upload; no customer mutation.
		session.Stage = string(StagePanVerification)
		message := "PAN card image data not found. Please upload your PAN card again."
		if err := session.AppendMessage("assistant", message, "verification"); err != nil {
			return UploadResult{}, err
		}
		if err := m.db.Save(session).Error; err != nil {
			return UploadResult{}, err
		}
		return UploadResult{
			Message:        message,
			Stage:          StagePanVerification,
			RequiresUpload: true,
			UploadType:     models.DocumentPanCard,
		}, nil
	}

	verdict, err := m.docs.MatchFaces(ctx, data, contentType, session.TempPanImage, session.TempPanImageMime)
	if err != nil {
		log.Printf("[WORKFLOW] face match call failed: %v", err)
		// This stage owns the staged document: purge so a stale card is
		// never reused after an error.
		session.ClearStagedPanImage()
		if saveErr := m.db.Save(session).Error; saveErr != nil {
			return UploadResult{}, saveErr
		}
		m.recordVerification(&customer.ID, models.DocumentSelfie, false, nil, nil,
			fmt.Sprintf("face match error: %v", err))
		return UploadResult{
			Message: retryMessage,
			Retry:   true,
			Stage:   Stage(session.Stage),
		}, nil
	}

	confidence := verdict.ConfidenceScore
	segment, haveSegment := SegmentForCustomer(customer)

	// The oracle's flag already applies the lenient rule; the numeric floor
	// is enforced again here independently.
	if !verdict.FacesMatch || confidence < faceMatchMinConfidence {
		m.recordVerification(&customer.ID, models.DocumentSelfie, false, &confidence, verdict, verdict.Notes)
		reason := verdict.Notes
		if reason == "" {
			reason = "Faces do not match sufficiently"
		}
		recommendation := verdict.Recommendation
		if recommendation == "" {
			recommendation = "retry"
		}
		// Staged card is kept for the next attempt
		return UploadResult{
			Message: fmt.Sprintf("Face verification failed: %s. Confidence: %d%%. Please try again with a clearer selfie.", reason, confidence),
			Retry:   true,
			Stage:   Stage(session.Stage),
			Data: map[string]interface{}{
				"confidence_score": confidence,
				"recommendation":   recommendation,
			},
		}, nil
	}

	customer.FaceMatchVerified = true
	customer.FaceMatchConfidence = &confidence
	if err := m.db.Save(customer).Error; err != nil {
		return UploadResult{}, err
	}

	m.recordVerification(&customer.ID, models.DocumentSelfie, true, &confidence, verdict, verdict.Notes)

	// Raw biometric source material must not outlive this step
	session.ClearStagedPanImage()
	session.Stage = string(StageLoanDetails)

	report, reportErr := m.docs.MatchReport(ctx, verdict)
	if reportErr != nil {
		report = fmt.Sprintf("Face verification successful (confidence %d%%). Your identity is confirmed.", confidence)
	}
	if err := session.AppendMessage("assistant", report, "verification"); err != nil {
		return UploadResult{}, err
	}

	hint := agents.SegmentHint{}
	if haveSegment {
		hint = segment.Hint()
	}
	loanMessage, engageErr := m.sales.Engage(ctx, session.Messages(), hint, "loan amount")
	if engageErr != nil {
		loanMessage = "Great, you're verified! Now, how much would you like to borrow, and for what purpose?"
	}
	if err := session.AppendMessage("assistant", loanMessage, "sales"); err != nil {
		return UploadResult{}, err
	}
	if err := m.db.Save(session).Error; err != nil {
		return UploadResult{}, err
	}

	result := UploadResult{
		Message:     report,
		NextMessage: loanMessage,
		Verified:    true,
		Stage:       StageLoanDetails,
		Data: map[string]interface{}{
			"confidence_score": confidence,
			"match_quality":    verdict.MatchQuality,
			"features_matched": verdict.FeaturesMatched,
		},
	}
	if haveSegment {
		result.SegmentName = segment.Name
		result.Data["customer_segment"] = segment.Name
	}
	return result, nil
}

// submitSalarySlip accepts the uploaded salary document and approves the
// pending application. Content verification is an explicit simplification:
// presence implies pass, and the audit row says so.
func (m *Machine) submitSalarySlip(ctx context.Context, session *models.ChatSession, data []byte, contentType string) (UploadResult, error) {
	customer, orphaned := m.loadCustomer(session)
	if customer == nil || orphaned {
		return UploadResult{}, ErrNoCustomer
	}

	var app models.LoanApplication
	if err := m.db.Where("customer_id = ?", customer.ID).Order("applied_at DESC, id DESC").First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return UploadResult{}, ErrNoApplication
		}
		return UploadResult{}, err
	}
	if app.IsTerminal() {
		return UploadResult{}, ErrNoApplication
	}

	log.Printf("[WORKFLOW] anomaly: salary slip for application %d accepted without content verification", app.ID)

	segment, haveSegment := SegmentForCustomer(customer)

	app.SalarySlipName = fmt.Sprintf("salary_slip_%d", app.ID)
	app.SalarySlipContent = data
	app.SalarySlipContentType = contentType
	app.SalarySlipSize = int64(len(data))
	app.Approve("Salary slip received")

	name, content, letterType := utils.GenerateSanctionLetter(&app, customer, segment.Name)
	app.SanctionLetterName = name
	app.SanctionLetterContent = content
	app.SanctionLetterContentType = letterType

	if err := m.db.Save(&app).Error; err != nil {
		return UploadResult{}, err
	}

	m.recordVerification(&customer.ID, models.DocumentSalarySlip, true, nil, nil,
		"accepted without content verification")

	message := salaryApprovalMessage(&app, segment, haveSegment)
	session.Stage = string(StageCompleted)
	if err := session.AppendMessage("assistant", message, "underwriting"); err != nil {
		return UploadResult{}, err
	}
	if err := m.db.Save(session).Error; err != nil {
		return UploadResult{}, err
	}

	result := UploadResult{
		Message:  message,
		Verified: true,
		Stage:    StageCompleted,
		LoanID:   app.ID,
	}
	if haveSegment {
		result.SegmentName = segment.Name
	}
	return result, nil
}

// recordVerification inserts one audit row. Audit writes are best-effort and
// never fail the workflow step.
func (m *Machine) recordVerification(customerID *uint, documentType string, verified bool, confidence *int, extracted interface{}, notes string) {
	row := models.DocumentVerification{
		CustomerID:        customerID,
		DocumentType:      documentType,
		IsVerified:        verified,
		ConfidenceScore:   confidence,
		VerificationNotes: notes,
		AiModelUsed:       m.modelName,
	}
	if extracted != nil {
		if raw, err := json.Marshal(extracted); err == nil {
			row.ExtractedData = raw
		}
	}
	if err := m.db.Create(&row).Error; err != nil {
		log.Printf("[WORKFLOW] failed to write verification audit row: %v", err)
	}
}

// loadCustomer fetches the session's customer. orphaned is true when the
// session points at a customer row that no longer exists.
func (m *Machine) loadCustomer(session *models.ChatSession) (*models.Customer, bool) {
	if session.CustomerID == nil {
		return nil, false
	}
	var customer models.Customer
	if err := m.db.First(&customer, *session.CustomerID).Error; err != nil {
		return nil, true
	}
	return &customer, false
}

// segmentForSession derives the advisory segment from the customer when one
// exists, falling back to the transient DOB held on the session.
func (m *Machine) segmentForSession(session *models.ChatSession, customer *models.Customer) (Segment, bool) {
	if seg, ok := SegmentForCustomer(customer); ok {
		return seg, true
	}
	if dob := parseDOB(session.TempDateOfBirth); dob != nil {
		return DetermineSegment(models.AgeAt(dob, time.Now()), "", nil), true
	}
	return Segment{}, false
}

// refreshSegment caches the computed segment on the customer. Reports whether
// the cached value changed.
func refreshSegment(customer *models.Customer, segment Segment) bool {
	if customer.CustomerSegment == segment.Name {
		return false
	}
	now := time.Now()
	customer.CustomerSegment = segment.Name
	customer.SegmentCalculatedAt = &now
	return true
}

// nextMissingField picks the single clarifying question to ask, in priority
// order amount → purpose → tenure → employment → income.
func nextMissingField(details agents.LoanDetails) string {
	switch {
	case !details.HasAmount:
		return "loan amount"
	case !details.HasPurpose:
		return "purpose of the loan"
	case !details.HasTenure:
		return "preferred tenure in months"
	case !details.HasEmployment:
		return "employment type"
	case !details.HasIncome:
		return "monthly income"
	}
	return ""
}

// selfiePromptFor picks the segment-tailored selfie request.
func selfiePromptFor(segment Segment, haveSegment bool) string {
	if haveSegment {
		switch segment.Name {
		case SegmentYoungSalaried:
			return "Excellent! Your PAN card has been verified successfully. " +
				"For final verification, please take a quick selfie using the upload button. " +
				"Super fast and secure - just like you prefer! 📸"
		case SegmentNewToCredit:
			return "Great! Your PAN card has been verified successfully. " +
				"For final verification, please take a selfie using the upload button. " +
				"Don't worry, this is simple and helps us keep your account secure. 😊"
		}
	}
	return "Great! Your PAN card has been verified successfully. " +
		"For final verification, please take a live selfie using the upload button. " +
		"This helps us ensure the security of your account."
}

// salaryApprovalMessage picks the segment-tailored approval message.
func salaryApprovalMessage(app *models.LoanApplication, segment Segment, haveSegment bool) string {
	amount := app.Amount.StringFixed(2)
	if haveSegment && segment.Name == SegmentYoungSalaried {
		return fmt.Sprintf("🎉 Awesome! After verifying your salary slip, your loan of ₹%s has been approved! "+
			"Fast-tracked just for you. Your sanction letter is ready for download. 📄", amount)
	}
	return fmt.Sprintf("🎉 Congratulations! After verifying your salary slip, your loan of ₹%s has been approved! "+
		"Your sanction letter is ready for download.", amount)
}

// parseDOB parses a date of birth in the two accepted formats.
func parseDOB(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{"02/01/2006", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
