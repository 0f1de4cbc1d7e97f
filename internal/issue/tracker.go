// Package issue tracks problem reports against machines. Reporting an issue
// against a running session pauses it; resolving or dismissing the issue
// resumes the session, shifting its effective end by the paused time.
package issue

import (
	"context"
	"fmt"
	"time"

	"lunex-backend/internal/domain"
	"lunex-backend/internal/model"
	"lunex-backend/internal/notify"
	"lunex-backend/internal/session"
	"lunex-backend/internal/store"
)

// Tracker owns issue lifecycle transitions.
type Tracker struct {
	store    *store.Store
	sessions *session.Manager
	notifier notify.Notifier
	now      func() time.Time
}

// NewTracker wires the tracker.
func NewTracker(s *store.Store, sessions *session.Manager, n notify.Notifier) *Tracker {
	return &Tracker{store: s, sessions: sessions, notifier: n, now: time.Now}
}

// SetClock overrides the tracker's clock, for tests.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Report files a new issue. If it names a booking with a running session,
// the session is paused as a side effect.
func (t *Tracker) Report(ctx context.Context, reporterID, machineCode string, bookingID *string, typ model.IssueType, description string) (*model.Issue, error) {
	machine, err := t.store.MachineByCode(ctx, machineCode)
	if err != nil {
		if store.NotFound(err) {
			return nil, domain.NotFoundf("machine %s not found", machineCode)
		}
		return nil, fmt.Errorf("loading machine: %w", err)
	}

	var booking *model.Booking
	var sess *model.Session
	if bookingID != nil {
		booking, err = t.store.BookingByID(ctx, *bookingID)
		if err != nil && !store.NotFound(err) {
			return nil, fmt.Errorf("loading booking: %w", err)
		}
		if booking != nil && booking.SessionID != nil {
			sess, err = t.store.SessionByID(ctx, *booking.SessionID)
			if err != nil && !store.NotFound(err) {
				return nil, fmt.Errorf("loading session: %w", err)
			}
		}
	}

	issue := &model.Issue{
		ReportedByID: reporterID,
		MachineID:    machine.ID,
		Type:         typ,
		Description:  description,
		Status:       model.IssueReported,
	}
	if booking != nil {
		issue.BookingID = &booking.ID
	}
	if sess != nil {
		issue.SessionID = &sess.ID
	}
	if err := t.store.CreateIssue(ctx, issue); err != nil {
		return nil, fmt.Errorf("creating issue: %w", err)
	}

	if sess != nil && sess.Status == model.SessionRunning {
		if _, err := t.sessions.Pause(ctx, sess.ID, &issue.ID); err != nil {
			// The session may have closed between read and pause; the issue
			// itself still stands.
			if !domain.IsConflict(err) {
				return nil, fmt.Errorf("pausing session for issue: %w", err)
			}
		} else {
			issue.SessionPaused = true
			if err := t.store.SaveIssue(ctx, issue); err != nil {
				return nil, fmt.Errorf("saving issue: %w", err)
			}
		}
	}

	t.notifier.Notify(ctx, reporterID, model.NotifyIssueReported, "Issue Reported",
		fmt.Sprintf("Your %s issue on %s has been reported. A warden will investigate.", typ, machine.Name),
		map[string]any{"issueId": issue.ID, "machineCode": machine.Code})

	return issue, nil
}

// Verify confirms a reported issue (staff).
func (t *Tracker) Verify(ctx context.Context, issueID, staffID string) (*model.Issue, error) {
	issue, err := t.load(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue.Status != model.IssueReported {
		return nil, domain.Conflictf("cannot verify issue with status %s", issue.Status)
	}

	now := t.now()
	issue.Status = model.IssueVerified
	issue.VerifiedByID = &staffID
	issue.VerifiedAt = &now
	if err := t.store.SaveIssue(ctx, issue); err != nil {
		return nil, fmt.Errorf("verifying issue: %w", err)
	}
	return issue, nil
}

// Resolve closes an issue and resumes the session it paused, if any.
func (t *Tracker) Resolve(ctx context.Context, issueID, staffID, note string) (*model.Issue, error) {
	return t.close(ctx, issueID, staffID, note, model.IssueResolved)
}

// Dismiss closes an issue as invalid; a paused session still resumes.
func (t *Tracker) Dismiss(ctx context.Context, issueID, staffID, note string) (*model.Issue, error) {
	if note == "" {
		note = "issue dismissed"
	}
	return t.close(ctx, issueID, staffID, note, model.IssueDismissed)
}

func (t *Tracker) close(ctx context.Context, issueID, staffID, note string, final model.IssueStatus) (*model.Issue, error) {
	issue, err := t.load(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue.Status == model.IssueResolved || issue.Status == model.IssueDismissed {
		return nil, domain.Conflictf("issue already %s", issue.Status)
	}

	now := t.now()
	issue.Status = final
	issue.ResolvedByID = &staffID
	issue.ResolvedAt = &now
	issue.ResolutionNote = note
	if err := t.store.SaveIssue(ctx, issue); err != nil {
		return nil, fmt.Errorf("closing issue: %w", err)
	}

	if issue.SessionPaused && issue.SessionID != nil {
		sess, err := t.store.SessionByID(ctx, *issue.SessionID)
		if err == nil && sess.Status == model.SessionPaused {
			if _, err := t.sessions.Resume(ctx, sess.ID); err != nil {
				return nil, fmt.Errorf("resuming session after issue: %w", err)
			}
		}
	}

	if final == model.IssueResolved {
		t.notifier.Notify(ctx, issue.ReportedByID, model.NotifyIssueResolved, "Issue Resolved",
			fmt.Sprintf("Your reported issue has been resolved. %s", note),
			map[string]any{"issueId": issue.ID})
	}

	return issue, nil
}

func (t *Tracker) load(ctx context.Context, issueID string) (*model.Issue, error) {
	issue, err := t.store.IssueByID(ctx, issueID)
	if err != nil {
		if store.NotFound(err) {
			return nil, domain.NotFoundf("issue not found")
		}
		return nil, fmt.Errorf("loading issue: %w", err)
	}
	return issue, nil
}
