package chatController

import (
	"errors"
	"fmt"
	"io"
	"log"
	"loanflow/database"
	"loanflow/middleware"
	"loanflow/models"
	"loanflow/utils"
	chatValidator "loanflow/validators/chat"
	"loanflow/workflow"

	"github.com/gofiber/fiber/v2"
)

var engine *workflow.Machine

// Setup injects the workflow machine used by the chat handlers.
func Setup(m *workflow.Machine) {
	engine = m
}

// StartChat creates a new conversation session.
func StartChat(c *fiber.Ctx) error {
	session, greeting, err := engine.BeginSession(c.Context())
	if err != nil {
		log.Printf("Error creating chat session: %v", err)
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to start chat session!", nil)
	}

	return middleware.JsonResponse(c, fiber.StatusCreated, true, "Chat session started!", fiber.Map{
		"session_id": session.SessionID,
		"message":    greeting,
		"agent":      "master",
		"stage":      session.Stage,
	})
}

// SendMessage advances the workflow by one free-text turn.
func SendMessage(c *fiber.Ctx) error {
	reqData := c.Locals("validatedMessage").(*struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	})

	result, err := engine.Advance(c.Context(), reqData.SessionID, reqData.Message)
	if err != nil {
		if errors.Is(err, workflow.ErrSessionNotFound) {
			return middleware.JsonResponse(c, fiber.StatusNotFound, false, "Chat session not found!", nil)
		}
		log.Printf("Error advancing session %s: %v", reqData.SessionID, err)
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to process message!", nil)
	}

	if result.Stage == workflow.StageCompleted && result.LoanID > 0 {
		go notifySanction(result.LoanID)
	}

	data := fiber.Map{
		"message":         result.Message,
		"agent":           result.Agent,
		"stage":           string(result.Stage),
		"requires_upload": result.RequiresUpload,
	}
	if result.UploadType != "" {
		data["upload_type"] = result.UploadType
	}
	if result.SegmentName != "" {
		data["customer_segment"] = result.SegmentName
		data["age_group"] = result.AgeGroup
	}
	if result.LoanID > 0 {
		data["loan_id"] = result.LoanID
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Message processed!", data)
}

// UploadPanCard receives the PAN card image for KYC verification.
func UploadPanCard(c *fiber.Ctx) error {
	return handleUpload(c, models.DocumentPanCard)
}

// UploadSelfie receives the live selfie for face matching.
func UploadSelfie(c *fiber.Ctx) error {
	return handleUpload(c, models.DocumentSelfie)
}

// UploadSalarySlip receives the salary document for a pending application.
func UploadSalarySlip(c *fiber.Ctx) error {
	return handleUpload(c, models.DocumentSalarySlip)
}

func handleUpload(c *fiber.Ctx, kind string) error {
	fileHeader, sessionID := chatValidator.ValidatedFile(c)

	file, err := fileHeader.Open()
	if err != nil {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Could not read uploaded file!", nil)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Could not read uploaded file!", nil)
	}

	result, err := engine.SubmitDocument(c.Context(), sessionID, kind, data, fileHeader.Header.Get("Content-Type"))
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrSessionNotFound):
			return middleware.JsonResponse(c, fiber.StatusNotFound, false, "Chat session not found!", nil)
		case errors.Is(err, workflow.ErrNoCustomer):
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Please complete the earlier verification steps first!", nil)
		case errors.Is(err, workflow.ErrNoApplication):
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "No loan application awaiting documents!", nil)
		}
		log.Printf("Error processing %s upload for session %s: %v", kind, sessionID, err)
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to process upload!", nil)
	}

	if result.Stage == workflow.StageCompleted && result.LoanID > 0 {
		go notifySanction(result.LoanID)
	}

	data2 := fiber.Map{
		"message":         result.Message,
		"verified":        result.Verified,
		"retry":           result.Retry,
		"stage":           string(result.Stage),
		"requires_upload": result.RequiresUpload,
	}
	if result.NextMessage != "" {
		data2["next_message"] = result.NextMessage
	}
	if result.UploadType != "" {
		data2["upload_type"] = result.UploadType
	}
	if result.SegmentName != "" {
		data2["customer_segment"] = result.SegmentName
	}
	if result.LoanID > 0 {
		data2["loan_id"] = result.LoanID
	}
	for k, v := range result.Data {
		data2[k] = v
	}

	status := fiber.StatusOK
	message := "Document processed!"
	if !result.Verified {
		message = "Document verification did not pass."
	}
	return middleware.JsonResponse(c, status, result.Verified, message, data2)
}

// DownloadSanctionLetter serves the generated letter for an approved loan.
// Access requires the session that owns the application.
func DownloadSanctionLetter(c *fiber.Ctx) error {
	loanID, err := c.ParamsInt("loanId")
	if err != nil || loanID < 1 {
		return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid loan id!", nil)
	}
	sessionID := c.Query("session_id")

	db := database.Database.Db

	var session models.ChatSession
	if err := db.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		return middleware.JsonResponse(c, fiber.StatusNotFound, false, "Chat session not found!", nil)
	}

	var app models.LoanApplication
	if err := db.First(&app, loanID).Error; err != nil {
		return middleware.JsonResponse(c, fiber.StatusNotFound, false, "Loan application not found!", nil)
	}

	if session.CustomerID == nil || *session.CustomerID != app.CustomerID {
		return middleware.JsonResponse(c, fiber.StatusForbidden, false, "This loan does not belong to your session!", nil)
	}

	if app.Status != models.LoanStatusApproved || len(app.SanctionLetterContent) == 0 {
		return middleware.JsonResponse(c, fiber.StatusNotFound, false, "Sanction letter is not available for this application!", nil)
	}

	c.Set("Content-Type", app.SanctionLetterContentType)
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", app.SanctionLetterName))
	return c.Send(app.SanctionLetterContent)
}

// notifySanction emails the sanction letter after an approval. Runs in the
// background; delivery failures are logged and never surfaced.
func notifySanction(loanID uint) {
	db := database.Database.Db

	var app models.LoanApplication
	if err := db.First(&app, loanID).Error; err != nil {
		log.Printf("Error loading application %d for sanction email: %v", loanID, err)
		return
	}
	var customer models.Customer
	if err := db.First(&customer, app.CustomerID).Error; err != nil {
		log.Printf("Error loading customer %d for sanction email: %v", app.CustomerID, err)
		return
	}
	if customer.Email == "" {
		return
	}

	reference := fmt.Sprintf("LA-%06d", app.ID)
	if err := utils.SendSanctionEmail(customer.Email, customer.Name, reference, app.SanctionLetterContent); err != nil {
		log.Printf("Error sending sanction email for %s: %v", reference, err)
	}
}
