// internal/service/notifier.go
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dangerclosesec/strategist/internal/email/mailer"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/orchestrator"
	"github.com/dangerclosesec/strategist/internal/repository"
)

const excerptLength = 280

var _ orchestrator.Notifier = (*AnalysisNotifier)(nil)

// AnalysisNotifier emails the submitter when an analysis reaches a terminal
// status.
type AnalysisNotifier struct {
	mail    mailer.Sender
	baseURL string
	logger  *slog.Logger
}

func NewAnalysisNotifier(mail mailer.Sender, baseURL string, logger *slog.Logger) *AnalysisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisNotifier{mail: mail, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// AnalysisFinished looks the submitter up through the job's own session.
// Deactivated users are not emailed.
func (n *AnalysisNotifier) AnalysisFinished(ctx context.Context, sess *repository.Session, analysis *model.Analysis) error {
	user, err := sess.FindUser(ctx, analysis.CreatedByID)
	if err != nil {
		return fmt.Errorf("finding submitter: %w", err)
	}
	if !user.Active() {
		n.logger.Debug("skipping notification for inactive user", "user_id", user.ID)
		return nil
	}

	return mailer.SendAnalysisFinished(n.mail, user.Email, mailer.AnalysisFinishedData{
		Name:    user.Name,
		Problem: excerpt(analysis.Problem),
		Status:  string(analysis.Status),
		Summary: excerpt(analysis.Summary),
		Reason:  analysis.Error,
		Link:    fmt.Sprintf("%s/analyses/%s", n.baseURL, analysis.ID),
	})
}

func excerpt(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= excerptLength {
		return string(r)
	}
	return string(r[:excerptLength]) + "…"
}
