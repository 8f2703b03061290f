package utils

import (
	"fmt"
	"loanflow/config"
	"net/smtp"
	"strings"
)

// Generic Send Email
func SendEmail(to []string, subject string, htmlBody string) error {
	smtpHost := "smtp.gmail.com"
	smtpPort := "587"

	from := config.AppConfig.EmailSender
	password := config.AppConfig.Password

	// MIME basics
	msg := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n"
	msg += fmt.Sprintf("From: Kite Capital <%s>\r\n", from)
	msg += fmt.Sprintf("To: %s\r\n", strings.Join(to, ","))
	msg += fmt.Sprintf("Subject: %s\r\n\r\n", subject)
	msg += htmlBody

	auth := smtp.PlainAuth("", from, password, smtpHost)

	err := smtp.SendMail(smtpHost+":"+smtpPort, auth, from, to, []byte(msg))
	if err != nil {
		fmt.Println("Error sending email:", err)
		return err
	}
	return nil
}

// SendSanctionEmail delivers the sanction letter to the customer. Best
// effort: a delivery failure never rolls back the approval.
func SendSanctionEmail(email, customerName, reference string, letterHTML []byte) error {
	if email == "" {
		return nil
	}
	subject := fmt.Sprintf("Your Loan is Approved - Sanction Letter %s", reference)
	body := fmt.Sprintf(`
	<p>Dear %s,</p>
	<p>Congratulations! Your loan application <strong>%s</strong> has been approved.
	Your sanction letter is attached below.</p>
	<hr>
	%s`, customerName, reference, string(letterHTML))
	return SendEmail([]string{email}, subject, body)
}
