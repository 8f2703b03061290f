package agents

import (
	"context"
	"encoding/json"
	"fmt"
)

// VerificationAgent wraps the vision-backed document checks: PAN card
// authenticity and selfie face matching.
type VerificationAgent struct {
	client Completer
}

func NewVerificationAgent(client Completer) *VerificationAgent {
	return &VerificationAgent{client: client}
}

// VerifyPanCard submits a PAN card image for verification against the
// expected identity. expectedPan may be empty when unknown.
func (a *VerificationAgent) VerifyPanCard(ctx context.Context, image []byte, mime, expectedName, expectedPan string) (PanVerification, error) {
	instructions := fmt.Sprintf(`You are an expert document verification agent specializing in Indian PAN cards.
Analyze the uploaded image and extract the following information:
1. PAN Number (format: 5 letters, 4 digits, 1 letter - e.g., ABCDE1234F)
2. Name on PAN card
3. Father's Name (if visible)
4. Date of Birth (if visible)

Also verify:
- Is this a genuine PAN card?
- Is the image clear and readable?
- Are there any signs of tampering?

Expected details:
- Customer Name: %s`, expectedName)
	if expectedPan != "" {
		instructions += "\n- PAN Number: " + expectedPan
	}
	instructions += `

Return your response as a JSON object with the following structure:
{
    "is_valid_pan_card": true/false,
    "pan_number": "extracted PAN",
    "name_on_card": "extracted name",
    "fathers_name": "extracted father's name or null",
    "date_of_birth": "extracted DOB or null",
    "image_quality": "good/poor/unclear",
    "tampering_detected": true/false,
    "confidence_score": 0-100,
    "verification_notes": "any observations"
}

Be strict in verification. If anything seems suspicious, set is_valid_pan_card to false.`

	messages := []Message{
		{Role: "system", Content: instructions},
		{Role: "user", Content: []ContentPart{
			TextPart("Please verify this PAN card image. Check if the details match the expected information."),
			ImagePart(image, mime),
		}},
	}

	reply, err := a.client.Complete(ctx, messages, 0.2)
	if err != nil {
		return PanVerification{}, err
	}

	var verdict PanVerification
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &verdict); err != nil {
		return PanVerification{
			IsValidPanCard: false,
			Notes:          "Failed to parse verification response",
		}, nil
	}
	return verdict, nil
}

// MatchFaces compares a live selfie against the staged PAN card photo.
func (a *VerificationAgent) MatchFaces(ctx context.Context, selfie []byte, selfieMime string, panImage []byte, panMime string) (FaceMatch, error) {
	messages := []Message{
		{Role: "system", Content: `You are an expert biometric verification agent specializing in face matching.
Compare the two images provided:
1. First image: Customer's live selfie
2. Second image: PAN card photo

Analyze and determine:
- Do both images show the same person?
- What is the confidence level of the match?
- Consider factors like age difference, image quality, angles
- Be lenient - even 20-30% similarity should pass if facial features match

Return your response as a JSON object:
{
    "faces_match": true/false,
    "confidence_score": 0-100,
    "match_quality": "excellent/good/fair/poor",
    "facial_features_matched": ["eyes", "nose", "face_shape", etc.],
    "verification_notes": "detailed observations",
    "recommendation": "approve/reject/manual_review"
}

Note: If confidence is 20% or above and key facial features match, set faces_match to true.`},
		{Role: "user", Content: []ContentPart{
			TextPart("Compare these two images. First is the live selfie, second is the PAN card photo. Do they show the same person?"),
			ImagePart(selfie, selfieMime),
			ImagePart(panImage, panMime),
		}},
	}

	reply, err := a.client.Complete(ctx, messages, 0.2)
	if err != nil {
		return FaceMatch{}, err
	}

	var verdict FaceMatch
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &verdict); err != nil {
		return FaceMatch{
			FacesMatch: false,
			Notes:      "Failed to parse face match response",
		}, nil
	}
	return verdict, nil
}

// VerificationReport turns a PAN verdict into a customer-facing message.
func (a *VerificationAgent) VerificationReport(ctx context.Context, verdict PanVerification) (string, error) {
	payload, _ := json.Marshal(verdict)
	messages := []Message{
		{Role: "system", Content: `You are a KYC officer. Generate a brief, professional message
about the PAN card verification result. Be clear about whether verification
passed or failed and mention key reasons.`},
		{Role: "user", Content: fmt.Sprintf("Generate verification message for this result: %s", payload)},
	}
	return a.client.Complete(ctx, messages, 0.5)
}

// MatchReport turns a face-match verdict into a customer-facing message.
func (a *VerificationAgent) MatchReport(ctx context.Context, verdict FaceMatch) (string, error) {
	payload, _ := json.Marshal(verdict)
	messages := []Message{
		{Role: "system", Content: `You are a biometric verification officer. Generate a brief,
professional message about the face matching result. Be clear and reassuring.`},
		{Role: "user", Content: fmt.Sprintf("Generate verification message for: %s", payload)},
	}
	return a.client.Complete(ctx, messages, 0.5)
}
