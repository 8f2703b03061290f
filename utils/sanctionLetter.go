package utils

import (
	"fmt"
	"time"

	"loanflow/models"
)

// GenerateSanctionLetter renders the approval letter for a sanctioned loan
// and returns the stored file name, content and content type.
func GenerateSanctionLetter(app *models.LoanApplication, customer *models.Customer, segmentName string) (string, []byte, string) {
	reference := fmt.Sprintf("LA-%06d", app.ID)
	issued := time.Now()
	if app.ApprovedAt != nil {
		issued = *app.ApprovedAt
	}

	segmentLine := ""
	if segmentName != "" {
		segmentLine = fmt.Sprintf(`<tr><td>Customer Profile</td><td>%s</td></tr>`, segmentName)
	}

	html := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<title>Loan Sanction Letter - %s</title>
	<style>
		body { font-family: 'Helvetica Neue', Helvetica, Arial, sans-serif; background-color: #F6F6F6; margin: 0; padding: 0; }
		.container { max-width: 700px; margin: 40px auto; background: #FFFFFF; border-radius: 8px; overflow: hidden; box-shadow: 0 4px 15px rgba(0,0,0,0.05); }
		.header { background-color: #00004D; padding: 30px; text-align: center; }
		.header h1 { color: #FFFFFF; margin: 0; font-size: 24px; letter-spacing: 1px; }
		.content { padding: 40px 30px; color: #00004D; line-height: 1.6; }
		table { width: 100%%; border-collapse: collapse; margin: 20px 0; }
		td { padding: 10px; border-bottom: 1px solid #E0E0E0; }
		td:first-child { font-weight: bold; width: 45%%; }
		.terms { background: #E8F0FE; padding: 15px; border-radius: 4px; border-left: 4px solid #d7b56d; margin: 20px 0; font-size: 13px; }
		.footer { background-color: #F6F6F6; padding: 20px; text-align: center; font-size: 12px; color: #666666; border-top: 1px solid #E0E0E0; }
	</style>
</head>
<body>
	<div class="container">
		<div class="header"><h1>KITE CAPITAL</h1></div>
		<div class="content">
			<h2>Loan Sanction Letter</h2>
			<p>Reference: <strong>%s</strong><br>Date: %s</p>
			<p>Dear %s,</p>
			<p>We are pleased to inform you that your loan application has been approved. The sanctioned terms are as follows:</p>
			<table>
				<tr><td>Applicant Name</td><td>%s</td></tr>
				<tr><td>PAN</td><td>%s</td></tr>
				%s
				<tr><td>Sanctioned Amount</td><td>&#8377; %s</td></tr>
				<tr><td>Purpose</td><td>%s</td></tr>
				<tr><td>Tenure</td><td>%d months</td></tr>
				<tr><td>Monthly Installment (EMI)</td><td>&#8377; %s</td></tr>
				<tr><td>Approval Basis</td><td>%s</td></tr>
			</table>
			<div class="terms">
				<strong>Terms &amp; Conditions</strong>
				<ol>
					<li>This sanction is valid for 30 days from the date of issue.</li>
					<li>Disbursement is subject to execution of the loan agreement and submission of post-dated instructions.</li>
					<li>The EMI shown is indicative and excludes applicable taxes and processing charges.</li>
					<li>Kite Capital reserves the right to withdraw this sanction if any information provided is found to be incorrect.</li>
				</ol>
			</div>
			<p>We look forward to serving you.</p>
			<p>Warm regards,<br><strong>Kite Capital Lending Team</strong></p>
		</div>
		<div class="footer">This is a system generated letter and does not require a signature.</div>
	</div>
</body>
</html>`,
		reference,
		reference,
		issued.Format("02 January 2006"),
		customer.Name,
		customer.Name,
		customer.Pan,
		segmentLine,
		app.Amount.StringFixed(2),
		app.Purpose,
		app.TenureMonths,
		app.MonthlyEMI().StringFixed(2),
		app.ApprovalReason,
	)

	name := fmt.Sprintf("sanction_letter_%s.html", reference)
	return name, []byte(html), "text/html; charset=utf-8"
}
