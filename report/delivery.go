package report

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/formify/formify/log"
)

// DeliveryChannel sends a rendered report to a recipient. The
// production channel is SMTP email; tests substitute their own.
type DeliveryChannel interface {
	Send(recipient, subject, body string) error
}

// SMTPChannel delivers report emails through a plain SMTP relay.
type SMTPChannel struct {
	Addr string
	From string
}

func (c *SMTPChannel) Send(recipient, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + c.From,
		"To: " + recipient,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")
	return smtp.SendMail(c.Addr, nil, c.From, []string{recipient}, []byte(msg))
}

// LogChannel stands in when no SMTP relay is configured. It writes the
// report to the application log instead of sending it.
type LogChannel struct{}

func (LogChannel) Send(recipient, subject, body string) error {
	log.Infof("report.deliver (no SMTP relay): to=%s subject=%q\n%s", recipient, subject, body)
	return nil
}

func subjectFor(report reportRow) string {
	return fmt.Sprintf("[Formify] %s – %s report", report.FormTitle, capitalize(report.Type))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func renderBody(report reportRow, payload any) string {
	lines := []string{
		"Report Type: " + report.Type,
		"Form: " + report.FormTitle,
		"",
	}

	switch p := payload.(type) {
	case *SummaryPayload:
		lines = append(lines,
			"Summary:",
			fmt.Sprintf("Total responses: %d", p.Totals.Responses),
			fmt.Sprintf("Total views: %d", p.Totals.Viewers),
			"Last response at: "+formatTime(p.Totals.LastResponseAt),
		)
	case *DetailedPayload:
		lines = append(lines, "Detailed:", fmt.Sprintf("Responses: %d", len(p.Responses)))
		for _, r := range p.Responses {
			lines = append(lines, fmt.Sprintf("- %s (%d answers)", r.SubmittedAt.Format(time.RFC3339), len(r.Answers)))
		}
	}

	lines = append(lines, "", "This is an automated message.")
	return strings.Join(lines, "\n")
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
