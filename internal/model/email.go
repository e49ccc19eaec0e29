package model

import "time"

// EmailStatus tracks an EmailRecord's progress through the outbound queue
// this core hands off to (SMTP/templating is an external collaborator).
type EmailStatus string

const (
	EmailQueued  EmailStatus = "QUEUED"
	EmailSending EmailStatus = "SENDING"
	EmailSent    EmailStatus = "SENT"
	EmailFailed  EmailStatus = "FAILED"
)

// EmailRecord is the structured handoff to the outbound email queue. The
// core never renders a template or opens an SMTP connection.
type EmailRecord struct {
	UserID        int64
	Email         string
	Subject       string
	BodyText      string
	BodyHTML      string
	ScheduledFor  time.Time
	Status        EmailStatus
	CorrelationID string
}
