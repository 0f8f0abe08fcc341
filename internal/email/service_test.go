package email

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/dangerclosesec/strategist/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	data        EmailData
	html, plain string
}

func newTestService(t *testing.T) (*Service, *[]sent) {
	t.Helper()
	cfg := &config.Config{}
	cfg.SMTP.Host = "smtp.example.com"
	cfg.SMTP.From = "noreply@example.com"
	cfg.Notify.FromName = "Strategist"

	s, err := NewEmailService(cfg, ProviderSMTP)
	require.NoError(t, err)

	var outbox []sent
	s.send = func(data EmailData, htmlContent, textContent string) error {
		outbox = append(outbox, sent{data: data, html: htmlContent, plain: textContent})
		return nil
	}
	return s, &outbox
}

func TestNewEmailServiceLoadsTemplates(t *testing.T) {
	s, _ := newTestService(t)
	assert.Contains(t, s.Templates, "welcome")
	assert.Contains(t, s.Templates, "analysis_finished")

	_, err := NewEmailService(&config.Config{}, Provider("pigeon"))
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	s, _ := newTestService(t)

	html, plain, err := s.Render("analysis_finished", map[string]string{
		"Name":    "Ada",
		"Problem": "Open a second store",
		"Status":  "failed",
		"Reason":  "no agent produced an output",
		"Link":    "https://app.example.com/analyses/1",
	})
	require.NoError(t, err)
	assert.Contains(t, html, "Hi Ada,")
	assert.Contains(t, html, `href="https://app.example.com/analyses/1"`)
	assert.Contains(t, plain, "finished with status failed")
	assert.Contains(t, plain, "no agent produced an output")

	_, _, err = s.Render("missing", nil)
	assert.Error(t, err)
}

func TestSendEmailFillsSender(t *testing.T) {
	s, outbox := newTestService(t)

	err := s.SendEmail(EmailData{
		To:           "ada@example.com",
		Subject:      "Welcome",
		TemplateName: "welcome",
		TemplateData: map[string]string{"Name": "Ada", "Organization": "Acme", "Plan": "free", "Link": "https://app.example.com"},
	})
	require.NoError(t, err)
	require.Len(t, *outbox, 1)

	msg := (*outbox)[0]
	assert.Equal(t, "noreply@example.com", msg.data.From)
	assert.Equal(t, "Strategist", msg.data.FromName)
	assert.Contains(t, msg.plain, "set up on the free plan")
}

func TestSendEmailRequiresSender(t *testing.T) {
	s, outbox := newTestService(t)
	s.config.SMTP.From = ""

	err := s.SendEmail(EmailData{To: "ada@example.com", TemplateName: "welcome", TemplateData: map[string]string{}})
	assert.ErrorContains(t, err, "missing sender")
	assert.Empty(t, *outbox)
}

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage(EmailData{
		To:       "ada@example.com",
		From:     "noreply@example.com",
		FromName: "Strategist",
		Subject:  "Your analysis is ready",
	}, "<p>hello</p>", "hello", "BOUNDARY"))

	assert.True(t, strings.HasPrefix(msg, "From: Strategist <noreply@example.com>\r\n"))
	assert.Contains(t, msg, "To: ada@example.com\r\n")
	assert.Contains(t, msg, "Subject: Your analysis is ready\r\n")
	assert.Contains(t, msg, "Content-Type: multipart/alternative; boundary=BOUNDARY\r\n")
	assert.Contains(t, msg, base64.StdEncoding.EncodeToString([]byte("<p>hello</p>")))
	assert.Contains(t, msg, base64.StdEncoding.EncodeToString([]byte("hello")))
	assert.True(t, strings.HasSuffix(msg, "--BOUNDARY--\r\n"))
	assert.Equal(t, 3, strings.Count(msg, "--BOUNDARY"))
}

func TestSendgridMessage(t *testing.T) {
	m := sendgridMessage(EmailData{
		To:           "ada@example.com",
		From:         "noreply@example.com",
		FromName:     "Strategist",
		Subject:      "Your analysis is ready",
		TemplateName: "analysis_finished",
		Tags:         map[string]string{"analysis_status": "completed"},
	}, "<p>hello</p>", "hello")

	assert.Equal(t, "noreply@example.com", m.From.Address)
	assert.Equal(t, "Strategist", m.From.Name)
	assert.Equal(t, "Your analysis is ready", m.Subject)
	assert.Equal(t, []string{"strategist", "analysis_finished"}, m.Categories)

	require.Len(t, m.Personalizations, 1)
	p := m.Personalizations[0]
	require.Len(t, p.To, 1)
	assert.Equal(t, "ada@example.com", p.To[0].Address)
	assert.Equal(t, map[string]string{"template": "analysis_finished", "analysis_status": "completed"}, p.CustomArgs)

	require.Len(t, m.Content, 2)
	assert.Equal(t, "text/plain", m.Content[0].Type, "plaintext must come first")
	assert.Equal(t, "hello", m.Content[0].Value)
	assert.Equal(t, "text/html", m.Content[1].Type)

	require.NotNil(t, m.TrackingSettings)
	require.NotNil(t, m.TrackingSettings.ClickTracking)
	assert.False(t, *m.TrackingSettings.ClickTracking.Enable)
}
