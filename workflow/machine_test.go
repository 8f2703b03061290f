package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"loanflow/agents"
	"loanflow/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ---- stub oracles ----

type stubMaster struct {
	nameResult agents.NameAndDob
	panResult  agents.PanToken
	judgment   agents.NameJudgment
}

func (s *stubMaster) Greet(ctx context.Context) (string, error) {
	return "Welcome! What's your name and date of birth?", nil
}
func (s *stubMaster) ExtractNameAndDob(ctx context.Context, history []models.ChatMessage) (agents.NameAndDob, error) {
	return s.nameResult, nil
}
func (s *stubMaster) ExtractPan(ctx context.Context, history []models.ChatMessage) (agents.PanToken, error) {
	return s.panResult, nil
}
func (s *stubMaster) RequestPanNumber(ctx context.Context, customerName string, segment agents.SegmentHint) (string, error) {
	return "Please share your PAN number.", nil
}
func (s *stubMaster) RequestNewCustomerPan(ctx context.Context, segment agents.SegmentHint) (string, error) {
	return "We need your PAN number to proceed.", nil
}
func (s *stubMaster) RequestPanUpload(ctx context.Context, customerName string, segment agents.SegmentHint) (string, error) {
	return "Please upload your PAN card.", nil
}
func (s *stubMaster) ThankAndClose(ctx context.Context) (string, error) {
	return "Thank you for banking with us!", nil
}
func (s *stubMaster) JudgeNameMatch(ctx context.Context, providedName, extractedName string) (agents.NameJudgment, error) {
	return s.judgment, nil
}

type stubSales struct {
	details   agents.LoanDetails
	lastAsked string
}

func (s *stubSales) Engage(ctx context.Context, history []models.ChatMessage, segment agents.SegmentHint, askFor string) (string, error) {
	s.lastAsked = askFor
	return fmt.Sprintf("Could you tell me the %s?", askFor), nil
}
func (s *stubSales) ExtractLoanDetails(ctx context.Context, history []models.ChatMessage, segment agents.SegmentHint) (agents.LoanDetails, error) {
	return s.details, nil
}

type stubDocs struct {
	pan     agents.PanVerification
	panErr  error
	face    agents.FaceMatch
	faceErr error
}

func (s *stubDocs) VerifyPanCard(ctx context.Context, image []byte, mime, expectedName, expectedPan string) (agents.PanVerification, error) {
	return s.pan, s.panErr
}
func (s *stubDocs) MatchFaces(ctx context.Context, selfie []byte, selfieMime string, panImage []byte, panMime string) (agents.FaceMatch, error) {
	return s.face, s.faceErr
}
func (s *stubDocs) VerificationReport(ctx context.Context, verdict agents.PanVerification) (string, error) {
	return "Your PAN card is verified.", nil
}
func (s *stubDocs) MatchReport(ctx context.Context, verdict agents.FaceMatch) (string, error) {
	return "Face verification passed.", nil
}

// ---- helpers ----

type machineFixture struct {
	machine *Machine
	db      *gorm.DB
	master  *stubMaster
	sales   *stubSales
	docs    *stubDocs
}

func newFixture(t *testing.T) *machineFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Customer{},
		&models.ChatSession{},
		&models.LoanApplication{},
		&models.DocumentVerification{},
	))

	master := &stubMaster{}
	sales := &stubSales{}
	docs := &stubDocs{}
	return &machineFixture{
		machine: NewMachine(db, master, sales, docs, "test-model"),
		db:      db,
		master:  master,
		sales:   sales,
		docs:    docs,
	}
}

func (f *machineFixture) newSession(t *testing.T, stage Stage, mutate func(*models.ChatSession)) string {
	t.Helper()
	session := &models.ChatSession{
		SessionID: uuid.NewString(),
		Stage:     string(stage),
	}
	if mutate != nil {
		mutate(session)
	}
	require.NoError(t, f.db.Create(session).Error)
	return session.SessionID
}

func (f *machineFixture) session(t *testing.T, sessionID string) *models.ChatSession {
	t.Helper()
	var session models.ChatSession
	require.NoError(t, f.db.Where("session_id = ?", sessionID).First(&session).Error)
	return &session
}

func (f *machineFixture) seedCustomer(t *testing.T, ageYears int, mutate func(*models.Customer)) *models.Customer {
	t.Helper()
	dob := time.Now().AddDate(-ageYears, -1, 0)
	customer := &models.Customer{
		Name:             "Ravi Kumar",
		Pan:              "ABCDE1234F",
		DateOfBirth:      &dob,
		CreditScore:      750,
		PreApprovedLimit: decimal.NewFromInt(100000),
	}
	if mutate != nil {
		mutate(customer)
	}
	require.NoError(t, f.db.Create(customer).Error)
	return customer
}

func assistantCount(msgs []models.ChatMessage) int {
	n := 0
	for _, m := range msgs {
		if m.Role == "assistant" {
			n++
		}
	}
	return n
}

func passingPanVerdict() agents.PanVerification {
	return agents.PanVerification{
		IsValidPanCard:  true,
		PanNumber:       "ABCDE1234F",
		NameOnCard:      "Ravi Kumar",
		DateOfBirth:     "15/06/1996",
		ImageQuality:    "good",
		ConfidenceScore: 92,
	}
}

func completeLoanDetails(amount int64) agents.LoanDetails {
	return agents.LoanDetails{
		Amount:        decimal.NewFromInt(amount),
		Purpose:       "home renovation",
		TenureMonths:  12,
		HasAmount:     true,
		HasPurpose:    true,
		HasTenure:     true,
		HasEmployment: true, EmploymentType: models.EmploymentSalaried,
		HasIncome: true, MonthlyIncome: decimal.NewFromInt(80000),
	}
}

// ---- session lifecycle ----

func TestBeginSessionStartsAtGreeting(t *testing.T) {
	f := newFixture(t)

	session, greeting, err := f.machine.BeginSession(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, greeting)
	assert.Equal(t, string(StageGreeting), session.Stage)

	stored := f.session(t, session.SessionID)
	msgs := stored.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "assistant", msgs[0].Role)
}

func TestAdvanceUnknownSessionFails(t *testing.T) {
	f := newFixture(t)

	_, err := f.machine.Advance(context.Background(), uuid.NewString(), "hello")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCorruptStageResetsToGreeting(t *testing.T) {
	f := newFixture(t)
	sessionID := f.newSession(t, Stage("totally_bogus"), nil)

	result, err := f.machine.Advance(context.Background(), sessionID, "hello")
	require.NoError(t, err)
	assert.Equal(t, StageGreeting, result.Stage)
	assert.Equal(t, string(StageGreeting), f.session(t, sessionID).Stage)
}

// ---- identity collection ----

func TestAdvanceCollectsNameAndMovesOn(t *testing.T) {
	f := newFixture(t)
	f.master.nameResult = agents.NameAndDob{Name: "Ravi Kumar", DateOfBirth: "15/06/1996", Found: true}
	sessionID := f.newSession(t, StageGreeting, nil)

	result, err := f.machine.Advance(context.Background(), sessionID, "I'm Ravi Kumar, born 15/06/1996")
	require.NoError(t, err)
	assert.Equal(t, StagePanCollection, result.Stage)
	assert.Equal(t, "master", result.Agent)

	stored := f.session(t, sessionID)
	assert.Equal(t, "Ravi Kumar", stored.CustomerName)
	assert.Equal(t, "15/06/1996", stored.TempDateOfBirth)
	assert.Equal(t, string(StagePanCollection), stored.Stage)
}

func TestAdvanceRepromptsWhenNameMissing(t *testing.T) {
	f := newFixture(t)
	f.master.nameResult = agents.NameAndDob{Found: false}
	sessionID := f.newSession(t, StageGreeting, nil)

	result, err := f.machine.Advance(context.Background(), sessionID, "hi")
	require.NoError(t, err)
	assert.Equal(t, StageNameCollection, result.Stage)
	assert.Contains(t, result.Message, "name and date of birth")
}

func TestAdvanceAppendsOneAssistantMessagePerTurn(t *testing.T) {
	f := newFixture(t)
	f.master.nameResult = agents.NameAndDob{Found: false}
	sessionID := f.newSession(t, StageGreeting, nil)

	for turn := 1; turn <= 3; turn++ {
		_, err := f.machine.Advance(context.Background(), sessionID, "hello")
		require.NoError(t, err)
		msgs := f.session(t, sessionID).Messages()
		assert.Equal(t, turn, assistantCount(msgs), "after turn %d", turn)
		assert.Len(t, msgs, turn*2)
	}
}

// ---- PAN collection ----

func TestAdvancePanCollectionValidToken(t *testing.T) {
	f := newFixture(t)
	f.master.panResult = agents.PanToken{Pan: "ABCDE1234F", Found: true}
	sessionID := f.newSession(t, StagePanCollection, func(s *models.ChatSession) {
		s.CustomerName = "Ravi Kumar"
	})

	result, err := f.machine.Advance(context.Background(), sessionID, "My PAN is ABCDE1234F")
	require.NoError(t, err)
	assert.Equal(t, StagePanVerification, result.Stage)
	assert.True(t, result.RequiresUpload)
	assert.Equal(t, models.DocumentPanCard, result.UploadType)
}

func TestAdvancePanCollectionRepromptsOnMissingToken(t *testing.T) {
	f := newFixture(t)
	f.master.panResult = agents.PanToken{Found: false}
	sessionID := f.newSession(t, StagePanCollection, func(s *models.ChatSession) {
		s.CustomerName = "Ravi Kumar"
	})

	result, err := f.machine.Advance(context.Background(), sessionID, "I don't remember")
	require.NoError(t, err)
	assert.Equal(t, StagePanCollection, result.Stage)
	assert.Contains(t, result.Message, "ABCDE1234F")
}

// ---- PAN card upload ----

func TestSubmitPanCardCreatesNewCustomer(t *testing.T) {
	f := newFixture(t)
	f.master.panResult = agents.PanToken{Pan: "ABCDE1234F", Found: true}
	f.docs.pan = passingPanVerdict()
	sessionID := f.newSession(t, StagePanVerification, func(s *models.ChatSession) {
		s.CustomerName = "Ravi Kumar"
		s.TempDateOfBirth = "15/06/1996"
	})

	result, err := f.machine.SubmitDocument(context.Background(), sessionID, models.DocumentPanCard, []byte("img"), "image/jpeg")
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Equal(t, StageSelfieVerification, result.Stage)
	assert.Equal(t, models.DocumentSelfie, result.UploadType)

	var customer models.Customer
	require.NoError(t, f.db.Where("pan = ?", "ABCDE1234F").First(&customer).Error)
	assert.True(t, customer.PanVerified)
	assert.Equal(t, 750, customer.CreditScore)
	assert.True(t, customer.PreApprovedLimit.Equal(decimal.NewFromInt(100000)))
	require.NotNil(t, customer.DateOfBirth)

	stored := f.session(t, sessionID)
	require.NotNil(t, stored.CustomerID)
	assert.Equal(t, customer.ID, *stored.CustomerID)
	assert.True(t, stored.HasStagedPanImage(), "card stays staged for the face match")

	var audits []models.DocumentVerification
	require.NoError(t, f.db.Find(&audits).Error)
	require.Len(t, audits, 1)
	assert.Equal(t, models.DocumentPanCard, audits[0].DocumentType)
	assert.True(t, audits[0].IsVerified)
	assert.Equal(t, "test-model", audits[0].AiModelUsed)
}

func TestSubmitPanCardMarksExistingCustomerVerified(t *testing.T) {
	f := newFixture(t)
	existing := f.seedCustomer(t, 30, nil)
	f.master.panResult = agents.PanToken{Pan: "ABCDE1234F", Found: true}
	f.docs.pan = passingPanVerdict()
	sessionID := f.newSession(t, StagePanVerification, func(s *models.ChatSession) {
		s.CustomerName = "Ravi Kumar"
	})

	result, err := f.machine.SubmitDocument(context.Background(), sessionID, models.DocumentPanCard, []byte("img"), "image/jpeg")
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Equal(t, true, result.Data["is_existing_customer"])

	var count int64
	f.db.Model(&models.Customer{}).Count(&count)
	assert.EqualValues(t, 1, count, "no duplicate customer row")

	var reloaded models.Customer
	require.NoError(t, f.db.First(&reloaded, existing.ID).Error)
	assert.True(t, reloaded.PanVerified)
}

func TestSubmitPanCardInvalidCardRejected(t *testing.T) {
	f := newFixture(t)
	f.docs.pan = agents.PanVerification{IsValidPanCard: false, Notes: "image too blurry"}
	sessionID := f.newSession(t, StagePanVerification, func(s *models.ChatSession) {
		s.CustomerName = "Ravi Kumar"
	})

	result, err := f.machine.SubmitDocument(context.Background(), sessionID, models.DocumentPanCard, []byte("img"), "image/jpeg")
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.True(t, result.Retry)
	assert.Equal(t, StagePanVerification, result.Stage)
	assert.Contains(t, result.Message, "image too blurry")

	stored := f.session(t, sessionID)
	assert.False(t, stored.HasStagedPanImage(), "failed attempt must not leave a staged card")
	assert.Equal(t, string(StagePanVerification), stored.Stage)

	var audits []models.DocumentVerification
	require.NoError(t, f.db.Find(&audits).Error)
	require.Len(t, audits, 1)
	assert.False(t, audits[0].IsVerified)
}

func TestSubmitPanCardNumberMismatchRejected(t *testing.T) {
	f := newFixture(t)
	f.master.panResult = agents.PanToken{Pan: "ABCDE1234F", Found: true}
	verdict := passingPanVerdict()
	verdict.PanNumber = "XYZAB9876K"
	f.docs.pan = verdict
	sessionID := f.newSession(t, StagePanVerification, func(s *models.ChatSession) {
		s.CustomerName = "Ravi Kumar"
	})

	result, err := f.machine.SubmitDocument(context.Background(), sessionID, models.DocumentPanCard, []byte("img"), "image/jpeg")
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Contains(t, result.Message, "mismatch")

	var count int64
	f.db.Model(&models.Customer{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestSubmitPanCardNameMismatchUsesSemanticJudgment(t *testing.T) {
	f := newFixture(t)
	f.master.panResult = agents.PanToken{Pan: "ABCDE1234F", Found: true}
	f.master.judgment = agents.NameJudgment{Matches: false, Reason: "different person"}
	verdict := passingPanVerdict()
	verdict.NameOnCard = "Priya Patel"
	f.docs.pan = verdict
	sessionID := f.newSession(t, StagePanVerification, func(s *models.ChatSession) {
		s.CustomerName = "Ravi Kumar"
	})

	result, err := f.machine.SubmitDocument(context.Background(), sessionID, models.DocumentPanCard, []byte("img"), "image/jpeg")
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Contains(t, result.Message, "Name verification failed")
	assert.Contains(t, result.Message, "different person")
}

func TestSubmitPanCardOracleErrorIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.docs.panErr = fmt.Errorf("upstream timeout")
	sessionID := f.newSession(t, StagePanVerification, func(s *models.ChatSession) {
		s.CustomerName = "Ravi Kumar"
	})

	result, err := f.machine.SubmitDocument(context.Background(), sessionID, models.DocumentPanCard, []byte("img"), "image/jpeg")
	require.NoError(t, err)
	assert.True(t, result.Retry)
	assert.Equal(t, StagePanVerification, result.Stage)
	assert.False(t, f.session(t, sessionID).HasStagedPanImage())

	var audits []models.DocumentVerification
	require.NoError(t, f.db.Find(&audits).Error)
	require.Len(t, audits, 1)
	assert.False(t, audits[0].IsVerified)
}

// ---- selfie upload ----

func selfieSession(t *testing.T, f *machineFixture, customer *models.Customer, staged bool) string {
	return f.newSession(t, StageSelfieVerification, func(s *models.ChatSession) {
		s.CustomerName = customer.Name
		s.CustomerID = &customer.ID
		if staged {
			s.TempPanImage = []byte("pan-card-bytes")
			s.TempPanImageMime = "image/jpeg"
		}
	})
}

func TestSubmitSelfieWithoutStagedPanRedirects(t *testing.T) {
	f := newFixture(t)
	customer := f.seedCustomer(t, 30, func(c *models.Customer) { c.PanVerified = true })
	sessionID := selfieSession(t, f, customer, false)

	result, err := f.machine.SubmitDocument(context.Background(), sessionID, models.DocumentSelfie, []byte("selfie"), "image/jpeg")
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Equal(t, StagePanVerification, result.Stage)
	assert.True(t, result.RequiresUpload)
	assert.Equal(t, models.DocumentPanCard, result.UploadType)

	var reloaded models.Customer
	require.NoError(t, f.db.First(&reloaded, customer.ID).Error)
	assert.False(t, reloaded.FaceMatchVerified, "no customer mutation on the fail-closed path")
	assert.Equal(t, string(StagePanVerification), f.session(t, sessionID).Stage)
}

func TestSubmitSelfieMatchAdvancesToLoanDetails(t *testing.T) {
	f := newFixture(t)
	customer := f.seedCustomer(t, 30, func(c *models.Customer) { c.PanVerified = true })
	f.docs.face = agents.FaceMatch{FacesMatch: true, ConfidenceScore: 75, MatchQuality: "good"}
	sessionID := selfieSession(t, f, customer, true)

	result, err := f.machine.SubmitDocument(context.Background(), sessionID, models.DocumentSelfie, []byte("selfie"), "image/jpeg")
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Equal(t, StageLoanDetails, result.Stage)

	var reloaded models.Customer
	require.NoError(t, f.db.First(&reloaded, customer.ID).Error)
	assert.True(t, reloaded.FaceMatchVerified)
	require.NotNil(t, reloaded.FaceMatchConfidence)
	assert.Equal(t, 75, *reloaded.FaceMatchConfidence)

	stored := f.session(t, sessionID)
	assert.False(t, stored.HasStagedPanImage(), "staged card cleared after a successful match")
	assert.Equal(t, string(StageLoanDetails), stored.Stage)
}

func TestSubmitSelfieBelowConfidenceFloorRejected(t *testing.T) {
	f := newFixture(t)
	customer := f.seedCustomer(t, 30, func(c *models.Customer) { c.PanVerified = true })
	// The flag alone is not enough; the numeric floor applies independently
	f.docs.face = agents.FaceMatch{FacesMatch: true, ConfidenceScore: faceMatchMinConfidence - 1}
	sessionID := selfieSession(t, f, customer, true)

	result, err := f.machine.SubmitDocument(context.Background(), sessionID, models.DocumentSelfie, []byte("selfie"), "image/jpeg")
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.True(t, result.Retry)
	assert.True(t, f.session(t, sessionID).HasStagedPanImage(), "staged card kept for the next attempt")

	var reloaded models.Customer
	require.NoError(t, f.db.First(&reloaded, customer.ID).Error)
	assert.False(t, reloaded.FaceMatchVerified)
}

func TestSubmitSelfieAtConfidenceFloorAccepted(t *testing.T) {
	f := newFixture(t)
	customer := f.seedCustomer(t, 30, func(c *models.Customer) { c.PanVerified = true })
	f.docs.face = agents.FaceMatch{FacesMatch: true, ConfidenceScore: faceMatchMinConfidence}
	sessionID := selfieSession(t, f, customer, true)

	result, err := f.machine.SubmitDocument(context.Background(), sessionID, models.DocumentSelfie, []byte("selfie"), "image/jpeg")
	require.NoError(t, err)
	assert.True(t, result.Verified)
}

func TestSubmitSelfieWithoutPanVerificationFails(t *testing.T) {
	f := newFixture(t)
	customer := f.seedCustomer(t, 30, nil) // PanVerified false
	sessionID := selfieSession(t, f, customer, true)

	_, err := f.machine.SubmitDocument(context.Background(), sessionID, models.DocumentSelfie, []byte("selfie"), "image/jpeg")
	assert.ErrorIs(t, err, ErrNoCustomer)
}

// ---- loan details and underwriting ----

func loanDetailsSession(t *testing.T, f *machineFixture, customer *models.Customer) string {
	return f.newSession(t, StageLoanDetails, func(s *models.ChatSession) {
		s.CustomerName = customer.Name
		s.CustomerID = &customer.ID
	})
}

func verifiedCustomer(t *testing.T, f *machineFixture, age int) *models.Customer {
	return f.seedCustomer(t, age, func(c *models.Customer) {
		c.PanVerified = true
		c.FaceMatchVerified = true
	})
}

func TestLoanDetailsAsksForMissingFieldsInOrder(t *testing.T) {
	f := newFixture(t)
	customer := verifiedCustomer(t, f, 30)
	sessionID := loanDetailsSession(t, f, customer)

	f.sales.details = agents.LoanDetails{HasAmount: true, Amount: decimal.NewFromInt(50000)}
	result, err := f.machine.Advance(context.Background(), sessionID, "I need 50000")
	require.NoError(t, err)
	assert.Equal(t, StageLoanDetails, result.Stage)
	assert.Equal(t, "purpose of the loan", f.sales.lastAsked)

	f.sales.details.HasPurpose = true
	f.sales.details.Purpose = "travel"
	_, err = f.machine.Advance(context.Background(), sessionID, "for travel")
	require.NoError(t, err)
	assert.Equal(t, "preferred tenure in months", f.sales.lastAsked)
}

func TestLoanDetailsInstantApproval(t *testing.T) {
	f := newFixture(t)
	customer := verifiedCustomer(t, f, 30)
	sessionID := loanDetailsSession(t, f, customer)
	f.sales.details = completeLoanDetails(50000)

	result, err := f.machine.Advance(context.Background(), sessionID, "50000 for renovation, 12 months")
	require.NoError(t, err)
	assert.Equal(t, StageCompleted, result.Stage)
	assert.Equal(t, "underwriting", result.Agent)
	require.NotZero(t, result.LoanID)
	assert.Contains(t, result.Message, "approved")

	var app models.LoanApplication
	require.NoError(t, f.db.First(&app, result.LoanID).Error)
	assert.Equal(t, models.LoanStatusApproved, app.Status)
	assert.Equal(t, "Within pre-approved limit", app.ApprovalReason)
	assert.Equal(t, SegmentYoungSalaried, app.CustomerSegmentSnapshot)
	require.NotNil(t, app.CreditScoreThresholdUsed)
	assert.Equal(t, 680, *app.CreditScoreThresholdUsed)
	assert.NotEmpty(t, app.SanctionLetterContent, "letter generated on approval")
	assert.NotNil(t, app.ApprovedAt)
}

func TestLoanDetailsRoutesToSalaryVerification(t *testing.T) {
	f := newFixture(t)
	customer := verifiedCustomer(t, f, 30)
	sessionID := loanDetailsSession(t, f, customer)
	f.sales.details = completeLoanDetails(180000) // between 1x and 2x the limit

	result, err := f.machine.Advance(context.Background(), sessionID, "I need 180000")
	require.NoError(t, err)
	assert.Equal(t, StageSalaryVerification, result.Stage)
	assert.True(t, result.RequiresUpload)
	assert.Equal(t, models.DocumentSalarySlip, result.UploadType)

	var app models.LoanApplication
	require.NoError(t, f.db.First(&app, result.LoanID).Error)
	assert.Equal(t, models.LoanStatusUnderReview, app.Status)
}

func TestLoanDetailsRejectsBeyondUpperBound(t *testing.T) {
	f := newFixture(t)
	customer := verifiedCustomer(t, f, 30)
	sessionID := loanDetailsSession(t, f, customer)
	f.sales.details = completeLoanDetails(250000) // beyond 2x the limit

	result, err := f.machine.Advance(context.Background(), sessionID, "I need 250000")
	require.NoError(t, err)
	assert.Equal(t, StageRejected, result.Stage)
	assert.Contains(t, result.Message, "cannot be approved")

	var app models.LoanApplication
	require.NoError(t, f.db.First(&app, result.LoanID).Error)
	assert.Equal(t, models.LoanStatusRejected, app.Status)
	assert.NotNil(t, app.RejectedAt)
}

func TestLoanDetailsUnaffordableEmiRejected(t *testing.T) {
	f := newFixture(t)
	customer := verifiedCustomer(t, f, 30)
	sessionID := loanDetailsSession(t, f, customer)
	details := completeLoanDetails(180000)
	details.MonthlyIncome = decimal.NewFromInt(20000) // 15000 EMI against a 35% cap
	f.sales.details = details

	result, err := f.machine.Advance(context.Background(), sessionID, "I need 180000")
	require.NoError(t, err)
	assert.Equal(t, StageRejected, result.Stage)

	var app models.LoanApplication
	require.NoError(t, f.db.First(&app, result.LoanID).Error)
	assert.Equal(t, models.LoanStatusRejected, app.Status)
	assert.Contains(t, app.RejectionReason, "EMI exceeds")
}

func TestLoanDetailsLowCreditScoreRejected(t *testing.T) {
	f := newFixture(t)
	customer := f.seedCustomer(t, 30, func(c *models.Customer) {
		c.PanVerified = true
		c.FaceMatchVerified = true
		c.CreditScore = 600
	})
	sessionID := loanDetailsSession(t, f, customer)
	f.sales.details = completeLoanDetails(50000)

	result, err := f.machine.Advance(context.Background(), sessionID, "50000 please")
	require.NoError(t, err)
	assert.Equal(t, StageRejected, result.Stage)
	assert.Contains(t, result.Message, "credit score below threshold")
}

func TestLoanDetailsWithoutCustomerRedirects(t *testing.T) {
	f := newFixture(t)
	sessionID := f.newSession(t, StageLoanDetails, func(s *models.ChatSession) {
		s.CustomerName = "Ravi Kumar"
	})
	f.sales.details = completeLoanDetails(50000)

	result, err := f.machine.Advance(context.Background(), sessionID, "50000 please")
	require.NoError(t, err)
	assert.Equal(t, StagePanVerification, result.Stage)
	assert.True(t, result.RequiresUpload)
}

func TestLoanDetailsPersistsEmploymentAndIncome(t *testing.T) {
	f := newFixture(t)
	customer := verifiedCustomer(t, f, 30)
	sessionID := loanDetailsSession(t, f, customer)
	f.sales.details = completeLoanDetails(50000)

	_, err := f.machine.Advance(context.Background(), sessionID, "50000 for renovation")
	require.NoError(t, err)

	var reloaded models.Customer
	require.NoError(t, f.db.First(&reloaded, customer.ID).Error)
	assert.Equal(t, models.EmploymentSalaried, reloaded.EmploymentType)
	require.NotNil(t, reloaded.MonthlyIncome)
	assert.True(t, reloaded.MonthlyIncome.Equal(decimal.NewFromInt(80000)))
	assert.Equal(t, SegmentYoungSalaried, reloaded.CustomerSegment)
	assert.NotNil(t, reloaded.SegmentCalculatedAt)
}

// ---- salary slip upload ----

func TestSubmitSalarySlipApprovesApplication(t *testing.T) {
	f := newFixture(t)
	customer := verifiedCustomer(t, f, 30)
	app := models.LoanApplication{
		CustomerID:   customer.ID,
		Amount:       decimal.NewFromInt(180000),
		Purpose:      "home renovation",
		TenureMonths: 12,
		Status:       models.LoanStatusUnderReview,
	}
	require.NoError(t, f.db.Create(&app).Error)
	sessionID := f.newSession(t, StageSalaryVerification, func(s *models.ChatSession) {
		s.CustomerName = customer.Name
		s.CustomerID = &customer.ID
	})

	result, err := f.machine.SubmitDocument(context.Background(), sessionID, models.DocumentSalarySlip, []byte("%PDF-"), "application/pdf")
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Equal(t, StageCompleted, result.Stage)
	assert.Equal(t, app.ID, result.LoanID)

	var reloaded models.LoanApplication
	require.NoError(t, f.db.First(&reloaded, app.ID).Error)
	assert.Equal(t, models.LoanStatusApproved, reloaded.Status)
	assert.Equal(t, "Salary slip received", reloaded.ApprovalReason)
	assert.NotEmpty(t, reloaded.SalarySlipContent)
	assert.NotEmpty(t, reloaded.SanctionLetterContent)

	var audit models.DocumentVerification
	require.NoError(t, f.db.Where("document_type = ?", models.DocumentSalarySlip).First(&audit).Error)
	assert.True(t, audit.IsVerified)
	assert.Equal(t, "accepted without content verification", audit.VerificationNotes)
}

func TestSubmitSalarySlipWithoutApplicationFails(t *testing.T) {
	f := newFixture(t)
	customer := verifiedCustomer(t, f, 30)
	sessionID := f.newSession(t, StageSalaryVerification, func(s *models.ChatSession) {
		s.CustomerID = &customer.ID
	})

	_, err := f.machine.SubmitDocument(context.Background(), sessionID, models.DocumentSalarySlip, []byte("pdf"), "application/pdf")
	assert.ErrorIs(t, err, ErrNoApplication)
}

// ---- terminal stages ----

func TestTerminalStagesAreIdempotent(t *testing.T) {
	f := newFixture(t)
	for _, stage := range []Stage{StageCompleted, StageRejected} {
		sessionID := f.newSession(t, stage, nil)

		for i := 0; i < 2; i++ {
			result, err := f.machine.Advance(context.Background(), sessionID, "anything else?")
			require.NoError(t, err)
			assert.Equal(t, stage, result.Stage)
			assert.NotEmpty(t, result.Message)
		}
		assert.Equal(t, string(stage), f.session(t, sessionID).Stage)

		var apps int64
		f.db.Model(&models.LoanApplication{}).Count(&apps)
		assert.Zero(t, apps, "terminal turns must not create applications")
	}
}
