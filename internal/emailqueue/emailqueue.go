// Package emailqueue builds the EmailRecord handoff for the EMAIL_QUEUE
// phase (spec §4.8): one record per user with a non-empty slate, upserted
// idempotently keyed on (batch_id, user_id). Rendering and delivery are
// external collaborators; this package only assembles the structured
// record the outbound queue consumes.
package emailqueue

import (
	"fmt"
	"strings"
	"time"

	"github.com/nagata-labs/shortlist-batch/internal/model"
)

// Build assembles one EmailRecord for a user's finished slate, or ok=false
// if the user has opted out or the slate is empty.
func Build(user model.User, slate *model.SectionSlate, correlationID string, scheduledFor time.Time) (model.EmailRecord, bool) {
	if !user.EmailEnabled || user.Email == "" || slate == nil || slate.Total() == 0 {
		return model.EmailRecord{}, false
	}

	return model.EmailRecord{
		UserID:        user.UserID,
		Email:         user.Email,
		Subject:       subjectLine(slate),
		BodyText:      renderText(slate),
		BodyHTML:      renderHTML(slate),
		ScheduledFor:  scheduledFor,
		Status:        model.EmailQueued,
		CorrelationID: correlationID,
	}, true
}

func subjectLine(slate *model.SectionSlate) string {
	picks := len(slate.Sections[model.SectionEditorialPicks])
	if picks > 0 {
		return fmt.Sprintf("%d new picks matched to you today", picks)
	}
	return fmt.Sprintf("%d jobs matched to you today", slate.Total())
}

func renderText(slate *model.SectionSlate) string {
	var b strings.Builder
	for _, kind := range model.OrderedSections {
		items := slate.Sections[kind]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s (%d)\n", sectionLabel(kind), len(items))
		for _, item := range items {
			fmt.Fprintf(&b, "  - %s\n", item.Job.Title)
		}
	}
	return b.String()
}

func renderHTML(slate *model.SectionSlate) string {
	var b strings.Builder
	b.WriteString("<div>")
	for _, kind := range model.OrderedSections {
		items := slate.Sections[kind]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "<h3>%s</h3><ul>", sectionLabel(kind))
		for _, item := range items {
			fmt.Fprintf(&b, "<li>%s</li>", item.Job.Title)
		}
		b.WriteString("</ul>")
	}
	b.WriteString("</div>")
	return b.String()
}

func sectionLabel(kind model.SectionKind) string {
	switch kind {
	case model.SectionEditorialPicks:
		return "Editorial picks"
	case model.SectionHighSalary:
		return "High salary"
	case model.SectionExperienceMatch:
		return "Matches your experience"
	case model.SectionLocationConvenient:
		return "Near you"
	case model.SectionWeekendShort:
		return "Weekend & short shifts"
	default:
		return "More opportunities"
	}
}
