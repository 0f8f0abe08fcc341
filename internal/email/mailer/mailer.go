// Package mailer holds one function per transactional email.
package mailer

import (
	"fmt"

	"github.com/dangerclosesec/strategist/internal/email"
)

// Sender is satisfied by *email.Service.
type Sender interface {
	SendEmail(data email.EmailData) error
}

// AnalysisFinishedData contains data for the analysis_finished template
type AnalysisFinishedData struct {
	Name    string
	Problem string
	Status  string
	Summary string
	Reason  string
	Link    string
}

// SendAnalysisFinished tells the submitter that an analysis reached a
// terminal state.
func SendAnalysisFinished(s Sender, to string, data AnalysisFinishedData) error {
	subject := "Your analysis is ready"
	if data.Status != "completed" {
		subject = fmt.Sprintf("Your analysis %s", data.Status)
	}

	return s.SendEmail(email.EmailData{
		To:           to,
		Subject:      subject,
		TemplateName: "analysis_finished",
		TemplateData: data,
		Tags:         map[string]string{"analysis_status": data.Status},
	})
}

// WelcomeData contains data for the welcome template
type WelcomeData struct {
	Name         string
	Organization string
	Plan         string
	Link         string
}

// SendWelcome greets the owner of a newly registered organization.
func SendWelcome(s Sender, to string, data WelcomeData) error {
	return s.SendEmail(email.EmailData{
		To:           to,
		Subject:      fmt.Sprintf("Welcome to Strategist, %s", data.Organization),
		TemplateName: "welcome",
		TemplateData: data,
	})
}
