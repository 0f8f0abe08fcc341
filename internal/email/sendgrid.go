package email

import (
	"fmt"

	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendgridCategory = "strategist"

func (s *Service) sendWithSendgrid(data EmailData, htmlContent, textContent string) error {
	response, err := s.sendgridClient.Send(sendgridMessage(data, htmlContent, textContent))
	if err != nil {
		return fmt.Errorf("sending %s email via Sendgrid: %w", data.TemplateName, err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("sending %s email via Sendgrid: status %d: %s", data.TemplateName, response.StatusCode, response.Body)
	}
	return nil
}

// sendgridMessage builds a single-recipient v3 message. Tags travel as custom
// args so delivery events can be traced back to the email that caused them.
// Click tracking is off because links point at tenant data.
func sendgridMessage(data EmailData, htmlContent, textContent string) *mail.SGMailV3 {
	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", data.To))
	p.SetCustomArg("template", data.TemplateName)
	for k, v := range data.Tags {
		p.SetCustomArg(k, v)
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(data.FromName, data.From))
	m.Subject = data.Subject
	m.AddPersonalizations(p)
	m.AddContent(
		mail.NewContent("text/plain", textContent),
		mail.NewContent("text/html", htmlContent),
	)
	m.AddCategories(sendgridCategory, data.TemplateName)

	tracking := mail.NewTrackingSettings()
	tracking.SetClickTracking(mail.NewClickTrackingSetting().SetEnable(false).SetEnableText(false))
	m.SetTrackingSettings(tracking)
	return m
}
