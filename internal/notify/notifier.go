package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/paul828919/CONNECT-sub002/internal/match"
	"github.com/paul828919/CONNECT-sub002/internal/models"
)

const deadlineWindowDays = 7

// ClosingPrograms lists active programs whose deadline falls within the
// given number of days.
type ClosingPrograms interface {
	ListProgramsClosingWithin(ctx context.Context, now time.Time, days int) ([]models.FundingProgram, error)
}

// Notifier turns scoring outcomes into notifications. It walks the org
// directory rather than holding org state of its own.
type Notifier struct {
	matches   *match.Service
	directory match.OrgDirectory
	programs  ClosingPrograms
	sink      Sink
	now       func() time.Time
}

func NewNotifier(matches *match.Service, directory match.OrgDirectory, programs ClosingPrograms, sink Sink) *Notifier {
	if sink == nil {
		sink = LogSink{}
	}
	return &Notifier{
		matches:   matches,
		directory: directory,
		programs:  programs,
		sink:      sink,
		now:       time.Now,
	}
}

// WithClock fixes the notifier clock, for tests.
func (n *Notifier) WithClock(now func() time.Time) *Notifier {
	n.now = now
	return n
}

// AfterIngestion notifies each organization that gained matches among
// programs updated since the given cutoff, typically the start of the
// ingestion run that just finished.
func (n *Notifier) AfterIngestion(ctx context.Context, since time.Time) error {
	orgIDs, err := n.directory.ListOrganizationIDs(ctx)
	if err != nil {
		return err
	}
	for _, orgID := range orgIDs {
		count, _, err := n.matches.NewMatchesForOrg(ctx, orgID, since)
		if err != nil {
			log.Printf("[notify] new-match check for org %s: %v", orgID, err)
			continue
		}
		if count == 0 {
			continue
		}
		n.deliver(ctx, Notification{
			Kind:          KindNewMatches,
			OrgID:         orgID,
			NewMatchCount: count,
			SentAt:        n.now(),
		})
	}
	return nil
}

// DeadlineSweep notifies organizations about matched programs closing
// within the next week. One notification per (org, program) pair per run;
// the caller controls run frequency.
func (n *Notifier) DeadlineSweep(ctx context.Context) error {
	now := n.now()
	closing, err := n.programs.ListProgramsClosingWithin(ctx, now, deadlineWindowDays)
	if err != nil {
		return err
	}
	if len(closing) == 0 {
		return nil
	}
	closingByID := make(map[uuid.UUID]models.FundingProgram, len(closing))
	for _, p := range closing {
		closingByID[p.ID] = p
	}

	orgIDs, err := n.directory.ListOrganizationIDs(ctx)
	if err != nil {
		return err
	}
	for _, orgID := range orgIDs {
		page, err := n.matches.MatchesForOrg(ctx, orgID, match.ListOptions{
			MinScore: n.matches.Thresholds().Notification,
			Limit:    100,
		})
		if err != nil {
			log.Printf("[notify] deadline sweep for org %s: %v", orgID, err)
			continue
		}
		for _, view := range page.Matches {
			p, ok := closingByID[view.Match.ProgramID]
			if !ok || p.DeadlineAt == nil {
				continue
			}
			days := int(p.DeadlineAt.Sub(now).Hours() / 24)
			if days < 0 {
				continue
			}
			n.deliver(ctx, Notification{
				Kind:           KindDeadlineApproaching,
				OrgID:          orgID,
				ProgramID:      p.ID,
				ProgramTitle:   p.Title,
				DeadlineInDays: days,
				SentAt:         n.now(),
			})
		}
	}
	return nil
}

// OpsAlert reports a source-level operational problem: a job reaching a
// terminal failure state, or a source entering its politeness cooldown.
func (n *Notifier) OpsAlert(sourceID, state, detail string) {
	n.deliver(context.Background(), Notification{
		Kind:     KindOpsAlert,
		SourceID: sourceID,
		Detail:   state + ": " + detail,
		SentAt:   n.now(),
	})
}

func (n *Notifier) deliver(ctx context.Context, notification Notification) {
	if err := n.sink.Deliver(ctx, notification); err != nil {
		log.Printf("[notify] delivering %s: %v", notification.Kind, err)
	}
}
