package notify

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/quizsprint/quizsprint/go/internal/models"
)

// Templates rendered by the delivery workers. The engine only names them
// and fills variables; copy lives with the transports.
const (
	TemplateWinner = "round_winner"
	TemplateLoser  = "round_result"
)

// WinnerJobs builds the notification jobs for a round's winner: an email
// job always, a WhatsApp job only when the participant consented and left
// a phone number. The claim deadline rides along so templates can show it.
func WinnerJobs(att *models.Attempt, round *models.Round, token *models.ClaimToken, now time.Time) []models.NotificationJob {
	vars := map[string]string{
		"round_id": strconv.FormatInt(round.ID, 10),
		"prize":    round.Settings.Prize,
	}
	if att.TotalTime != nil {
		vars["total_time"] = att.TotalTime.String()
	}
	if token != nil {
		vars["claim_token"] = token.Token
		vars["claim_expires_at"] = token.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return jobsFor(att, TemplateWinner, models.JobPriorityHigh, vars, now)
}

// LoserJobs builds the result notification for a non-winning participant,
// covering both eligible runners-up and paid-but-incomplete attempts.
func LoserJobs(att *models.Attempt, round *models.Round, now time.Time) []models.NotificationJob {
	vars := map[string]string{
		"round_id": strconv.FormatInt(round.ID, 10),
		"prize":    round.Settings.Prize,
		"finished": strconv.FormatBool(att.Status == models.AttemptStatusCompleted),
	}
	return jobsFor(att, TemplateLoser, models.JobPriorityNormal, vars, now)
}

func jobsFor(att *models.Attempt, template string, priority models.JobPriority, vars map[string]string, now time.Time) []models.NotificationJob {
	jobs := []models.NotificationJob{{
		ID:        uuid.New(),
		Recipient: att.Email,
		Channel:   models.NotificationChannelEmail,
		Template:  template,
		Variables: vars,
		Priority:  priority,
		CreatedAt: now,
	}}

	if att.WhatsAppConsent && att.Phone != "" {
		jobs = append(jobs, models.NotificationJob{
			ID:        uuid.New(),
			Recipient: att.Phone,
			Channel:   models.NotificationChannelWhatsApp,
			Template:  template,
			Variables: vars,
			Priority:  priority,
			CreatedAt: now,
		})
	}
	return jobs
}
