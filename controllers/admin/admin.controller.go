package adminController

import (
	"log"
	"loanflow/config"
	"loanflow/database"
	"loanflow/middleware"
	"loanflow/models"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// Login authenticates the back-office operator against the configured
// credentials and returns a JWT.
func Login(c *fiber.Ctx) error {
	reqData := c.Locals("validatedLogin").(*struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	})

	if reqData.Email != config.AppConfig.AdminEmail {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Invalid credentials!", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(config.AppConfig.AdminPasswordHash), []byte(reqData.Password)); err != nil {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Invalid credentials!", nil)
	}

	token, err := middleware.GenerateJWT(reqData.Email)
	if err != nil {
		log.Printf("Error generating admin token: %v", err)
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to login!", nil)
	}

	return middleware.JsonResponse(c, fiber.StatusOK, true, "Login successful!", fiber.Map{
		"token": token,
	})
}

// ListCustomers returns customers with their verification state, paginated.
func ListCustomers(c *fiber.Ctx) error {
	db := database.Database.Db
	page := c.Locals("page").(int)
	limit := c.Locals("limit").(int)

	var total int64
	db.Model(&models.Customer{}).Count(&total)

	var customers []models.Customer
	if err := db.Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&customers).Error; err != nil {
		log.Printf("Error listing customers: %v", err)
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to fetch customers!", nil)
	}

	list := make([]fiber.Map, 0, len(customers))
	for _, cust := range customers {
		list = append(list, fiber.Map{
			"id":                  cust.ID,
			"name":                cust.Name,
			"pan":                 maskPan(cust.Pan),
			"age":                 cust.Age(),
			"credit_score":        cust.CreditScore,
			"pre_approved_limit":  cust.PreApprovedLimit,
			"employment_type":     cust.EmploymentType,
			"customer_segment":    cust.CustomerSegment,
			"pan_verified":        cust.PanVerified,
			"face_match_verified": cust.FaceMatchVerified,
			"created_at":          cust.CreatedAt,
		})
	}

	return middleware.JsonResponse(c, fiber.StatusOK, true, "Customers fetched!", fiber.Map{
		"customers": list,
		"total":     total,
		"page":      page,
		"limit":     limit,
	})
}

// ListApplications returns loan applications with decisions, paginated.
func ListApplications(c *fiber.Ctx) error {
	db := database.Database.Db
	page := c.Locals("page").(int)
	limit := c.Locals("limit").(int)

	var total int64
	db.Model(&models.LoanApplication{}).Count(&total)

	var apps []models.LoanApplication
	if err := db.Preload("Customer").Order("applied_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&apps).Error; err != nil {
		log.Printf("Error listing applications: %v", err)
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to fetch applications!", nil)
	}

	list := make([]fiber.Map, 0, len(apps))
	for _, app := range apps {
		entry := fiber.Map{
			"id":               app.ID,
			"customer_id":      app.CustomerID,
			"customer_name":    app.Customer.Name,
			"amount":           app.Amount,
			"purpose":          app.Purpose,
			"tenure_months":    app.TenureMonths,
			"status":           app.Status,
			"customer_segment": app.CustomerSegmentSnapshot,
			"approval_reason":  app.ApprovalReason,
			"rejection_reason": app.RejectionReason,
			"applied_at":       app.AppliedAt,
			"monthly_emi":      app.MonthlyEMI(),
		}
		if app.CreditScoreThresholdUsed != nil {
			entry["credit_score_threshold"] = *app.CreditScoreThresholdUsed
		}
		if app.EmiRatioThresholdUsed != nil {
			entry["emi_ratio_threshold"] = *app.EmiRatioThresholdUsed
		}
		list = append(list, entry)
	}

	return middleware.JsonResponse(c, fiber.StatusOK, true, "Applications fetched!", fiber.Map{
		"applications": list,
		"total":        total,
		"page":         page,
		"limit":        limit,
	})
}

// ListVerifications returns the document verification audit trail, paginated.
func ListVerifications(c *fiber.Ctx) error {
	db := database.Database.Db
	page := c.Locals("page").(int)
	limit := c.Locals("limit").(int)

	query := db.Model(&models.DocumentVerification{})
	if customerID := c.QueryInt("customer_id", 0); customerID > 0 {
		query = query.Where("customer_id = ?", customerID)
	}

	var total int64
	query.Count(&total)

	var rows []models.DocumentVerification
	if err := query.Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&rows).Error; err != nil {
		log.Printf("Error listing verifications: %v", err)
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to fetch verifications!", nil)
	}

	list := make([]fiber.Map, 0, len(rows))
	for _, row := range rows {
		entry := fiber.Map{
			"id":            row.ID,
			"customer_id":   row.CustomerID,
			"document_type": row.DocumentType,
			"is_verified":   row.IsVerified,
			"notes":         row.VerificationNotes,
			"ai_model":      row.AiModelUsed,
			"created_at":    row.CreatedAt,
		}
		if row.ConfidenceScore != nil {
			entry["confidence_score"] = *row.ConfidenceScore
		}
		list = append(list, entry)
	}

	return middleware.JsonResponse(c, fiber.StatusOK, true, "Verifications fetched!", fiber.Map{
		"verifications": list,
		"total":         total,
		"page":          page,
		"limit":         limit,
	})
}

// GetSessionTranscript returns the conversation log for a session.
func GetSessionTranscript(c *fiber.Ctx) error {
	db := database.Database.Db
	sessionID := c.Params("sessionId")

	var session models.ChatSession
	if err := db.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		return middleware.JsonResponse(c, fiber.StatusNotFound, false, "Chat session not found!", nil)
	}

	return middleware.JsonResponse(c, fiber.StatusOK, true, "Transcript fetched!", fiber.Map{
		"session_id":    session.SessionID,
		"stage":         session.Stage,
		"customer_id":   session.CustomerID,
		"customer_name": session.CustomerName,
		"messages":      session.Messages(),
		"created_at":    session.CreatedAt,
		"updated_at":    session.UpdatedAt,
	})
}

// maskPan hides the middle of a PAN for listing responses.
func maskPan(pan string) string {
	if len(pan) != 10 {
		return pan
	}
	return pan[:2] + "XXXXXX" + pan[8:]
}
