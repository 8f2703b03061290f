package chatValidator

import (
	"loanflow/middleware"
	"mime/multipart"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	maxMessageLength = 2000
	maxImageSize     = 5 * 1024 * 1024  // 5 MB
	maxDocumentSize  = 10 * 1024 * 1024 // 10 MB
)

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

var imageContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
}

// Message validator middleware
func Message() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := new(struct {
			SessionID string `json:"session_id"`
			Message   string `json:"message"`
		})
		if err := c.BodyParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}

		errors := make(map[string]string)

		if !uuidPattern.MatchString(reqData.SessionID) {
			errors["session_id"] = "Invalid session id!"
		}

		if len(strings.TrimSpace(reqData.Message)) == 0 {
			errors["message"] = "Message cannot be empty!"
		} else if len(reqData.Message) > maxMessageLength {
			errors["message"] = "Message is too long!"
		}

		if len(errors) > 0 {
			return middleware.ValidationErrorResponse(c, errors)
		}

		c.Locals("validatedMessage", reqData)
		return c.Next()
	}
}

// ImageUpload validates a PAN card or selfie upload. Size and content type
// are checked here, before any verification work happens.
func ImageUpload() fiber.Handler {
	return uploadValidator(false)
}

// DocumentUpload validates a salary slip upload. PDFs are allowed in
// addition to images, with a larger size cap.
func DocumentUpload() fiber.Handler {
	return uploadValidator(true)
}

func uploadValidator(allowPdf bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		errors := make(map[string]string)

		sessionID := c.FormValue("session_id")
		if !uuidPattern.MatchString(sessionID) {
			errors["session_id"] = "Invalid session id!"
		}

		file, err := c.FormFile("file")
		if err != nil {
			errors["file"] = "File is required!"
			return middleware.ValidationErrorResponse(c, errors)
		}

		contentType := file.Header.Get("Content-Type")
		maxSize := int64(maxImageSize)
		allowed := imageContentTypes[contentType]
		if allowPdf {
			maxSize = maxDocumentSize
			allowed = allowed || contentType == "application/pdf"
		}

		if !allowed {
			if allowPdf {
				errors["file"] = "Only JPEG, PNG, WebP images or PDF files are allowed!"
			} else {
				errors["file"] = "Only JPEG, PNG or WebP images are allowed!"
			}
		}
		if file.Size > maxSize {
			errors["file"] = "File is too large!"
		}
		if file.Size == 0 {
			errors["file"] = "File is empty!"
		}

		if len(errors) > 0 {
			return middleware.ValidationErrorResponse(c, errors)
		}

		c.Locals("validatedSessionId", sessionID)
		c.Locals("validatedFile", file)
		return c.Next()
	}
}

// ValidatedFile pulls the upload out of the request context.
func ValidatedFile(c *fiber.Ctx) (*multipart.FileHeader, string) {
	file, _ := c.Locals("validatedFile").(*multipart.FileHeader)
	sessionID, _ := c.Locals("validatedSessionId").(string)
	return file, sessionID
}
