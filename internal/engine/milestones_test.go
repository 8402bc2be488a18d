package engine_test

import (
	"errors"
	"testing"

	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/repo"
)

func fixedTerms(convID, actorID string) engine.AgreementOptions {
	return engine.AgreementOptions{
		ConversationID:   convID,
		ActorID:          actorID,
		StartDate:        "2024-02-01",
		EndDate:          "2024-03-01",
		PaymentAmount:    500,
		PaymentMethod:    "bank_transfer",
		PaymentStructure: domain.PaymentStructureMilestone,
	}
}

// proposeAndConfirm sets up an accepted agreement proposed by the owner
// and confirmed by the worker.
func proposeAndConfirm(t *testing.T, env testEnv, opts engine.AgreementOptions) domain.Agreement {
	t.Helper()
	a, err := env.Engine.ProposeAgreement(env.Ctx, opts)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	confirmer := workerID
	if opts.ActorID == workerID {
		confirmer = ownerID
	}
	a, err = env.Engine.ConfirmAgreement(env.Ctx, a.ID, confirmer)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return a
}

func TestAgreementLifecycle(t *testing.T) {
	env := newTestEnv(t)
	opts := fixedTerms(env.ConvID, ownerID)
	a, err := env.Engine.ProposeAgreement(env.Ctx, opts)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if a.Status != domain.AgreementProposed {
		t.Fatalf("expected proposed, got %s", a.Status)
	}
	// a second proposal is rejected while one is unresolved
	_, err = env.Engine.ProposeAgreement(env.Ctx, fixedTerms(env.ConvID, workerID))
	if !errors.Is(err, engine.ErrAgreementExists) {
		t.Fatalf("expected single-agreement rule, got %v", err)
	}
	// counterparty cannot edit, creator can
	opts.PaymentAmount = 600
	if _, err := env.Engine.EditAgreement(env.Ctx, a.ID, opts, workerID); !errors.Is(err, engine.ErrNotCreator) {
		t.Fatalf("expected creator-only edit, got %v", err)
	}
	a, err = env.Engine.EditAgreement(env.Ctx, a.ID, opts, ownerID)
	if err != nil || a.PaymentAmount != 600 {
		t.Fatalf("edit: %v", err)
	}
	// creator cannot confirm their own proposal
	if _, err := env.Engine.ConfirmAgreement(env.Ctx, a.ID, ownerID); !errors.Is(err, engine.ErrNotCounterparty) {
		t.Fatalf("expected self-confirm rejection, got %v", err)
	}
	a, err = env.Engine.ConfirmAgreement(env.Ctx, a.ID, workerID)
	if err != nil || a.Status != domain.AgreementAccepted {
		t.Fatalf("confirm: %v", err)
	}
	// accepted agreements are immutable
	if _, err := env.Engine.EditAgreement(env.Ctx, a.ID, opts, ownerID); !errors.Is(err, engine.ErrAgreementImmutable) {
		t.Fatalf("expected immutable after acceptance, got %v", err)
	}
	if err := env.Engine.DeleteAgreement(env.Ctx, a.ID, ownerID); !errors.Is(err, engine.ErrAgreementImmutable) {
		t.Fatalf("expected delete blocked, got %v", err)
	}
	// confirmation flipped the proposal and job
	var propStatus, jobStatus string
	env.Engine.DB.QueryRowContext(env.Ctx, `SELECT status FROM proposals WHERE id='prop-1'`).Scan(&propStatus)
	env.Engine.DB.QueryRowContext(env.Ctx, `SELECT status FROM jobs WHERE id='job-1'`).Scan(&jobStatus)
	if propStatus != "accepted" || jobStatus != "in_progress" {
		t.Fatalf("expected accepted/in_progress, got %s/%s", propStatus, jobStatus)
	}
}

func TestAgreementWithdraw(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.ProposeAgreement(env.Ctx, fixedTerms(env.ConvID, workerID))
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteAgreement(env.Ctx, a.ID, ownerID); !errors.Is(err, engine.ErrNotCreator) {
		t.Fatalf("expected creator-only delete, got %v", err)
	}
	if err := env.Engine.DeleteAgreement(env.Ctx, a.ID, workerID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	// the slot reopens
	if _, err := env.Engine.ProposeAgreement(env.Ctx, fixedTerms(env.ConvID, ownerID)); err != nil {
		t.Fatalf("repropose after withdraw: %v", err)
	}
}

func TestAgreementValidation(t *testing.T) {
	env := newTestEnv(t)
	opts := fixedTerms(env.ConvID, ownerID)
	opts.EndDate = "2024-01-15"
	var valErr engine.ValidationError
	if _, err := env.Engine.ProposeAgreement(env.Ctx, opts); !errors.As(err, &valErr) {
		t.Fatalf("expected end-before-start validation error, got %v", err)
	}
	opts = fixedTerms(env.ConvID, ownerID)
	opts.PaymentMethod = "gold_bars"
	if _, err := env.Engine.ProposeAgreement(env.Ctx, opts); err == nil {
		t.Fatalf("expected payment method catalog rejection")
	}
	opts = fixedTerms(env.ConvID, ownerID)
	opts.IsHourly = true
	opts.HourlyRate = 0
	if _, err := env.Engine.ProposeAgreement(env.Ctx, opts); err == nil {
		t.Fatalf("expected hourly rate rejection")
	}
}

func TestMilestoneBudgetEnforcement(t *testing.T) {
	env := newTestEnv(t)
	proposeAndConfirm(t, env, fixedTerms(env.ConvID, ownerID)) // budget 500

	add := func(title string, amount float64) (domain.Milestone, error) {
		return env.Engine.CreateMilestone(env.Ctx, engine.MilestoneOptions{
			ConversationID: env.ConvID,
			ActorID:        ownerID,
			Title:          title,
			Amount:         amount,
		})
	}
	if _, err := add("design", 300); err != nil {
		t.Fatalf("first milestone: %v", err)
	}
	_, err := add("build", 250)
	var budgetErr engine.BudgetExceededError
	if !errors.As(err, &budgetErr) {
		t.Fatalf("expected budget error, got %v", err)
	}
	if budgetErr.Remaining != 200 {
		t.Fatalf("expected 200 remaining, got %.2f", budgetErr.Remaining)
	}
	// exact fit is allowed
	if _, err := add("build smaller", 200); err != nil {
		t.Fatalf("exact-fit milestone: %v", err)
	}
	// budget is now fully committed
	if _, err := add("extra", 1); err == nil {
		t.Fatalf("expected exhausted budget rejection")
	}
}

func TestDeclinedMilestoneReturnsBudget(t *testing.T) {
	env := newTestEnv(t)
	proposeAndConfirm(t, env, fixedTerms(env.ConvID, ownerID))

	m, err := env.Engine.CreateMilestone(env.Ctx, engine.MilestoneOptions{
		ConversationID: env.ConvID, ActorID: ownerID, Title: "all of it", Amount: 500,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateMilestone(env.Ctx, engine.MilestoneOptions{
		ConversationID: env.ConvID, ActorID: ownerID, Title: "over", Amount: 100,
	}); err == nil {
		t.Fatalf("expected budget full")
	}
	if _, err := env.Engine.DeclineMilestone(env.Ctx, m.ID, workerID); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if _, err := env.Engine.CreateMilestone(env.Ctx, engine.MilestoneOptions{
		ConversationID: env.ConvID, ActorID: ownerID, Title: "retry", Amount: 100,
	}); err != nil {
		t.Fatalf("expected budget freed after decline: %v", err)
	}
}

func TestMilestoneTransitionsAndRoles(t *testing.T) {
	env := newTestEnv(t)
	proposeAndConfirm(t, env, fixedTerms(env.ConvID, ownerID))
	m, err := env.Engine.CreateMilestone(env.Ctx, engine.MilestoneOptions{
		ConversationID: env.ConvID, ActorID: ownerID, Title: "phase 1", Amount: 200,
	})
	if err != nil {
		t.Fatal(err)
	}
	// only the worker plans milestones forward; the owner cannot accept
	var transErr engine.InvalidTransitionError
	if _, err := env.Engine.AcceptMilestone(env.Ctx, m.ID, ownerID); !errors.As(err, &transErr) {
		t.Fatalf("expected owner blocked from accepting, got %v", err)
	}
	// skipping ahead is invalid
	if _, err := env.Engine.CompleteMilestone(env.Ctx, m.ID, workerID); !errors.As(err, &transErr) {
		t.Fatalf("expected pending->completed blocked, got %v", err)
	}
	m, err = env.Engine.AcceptMilestone(env.Ctx, m.ID, workerID)
	if err != nil || m.AcceptedAt == nil {
		t.Fatalf("accept: %v", err)
	}
	m, err = env.Engine.CompleteMilestone(env.Ctx, m.ID, workerID)
	if err != nil || m.CompletedAt == nil {
		t.Fatalf("complete: %v", err)
	}
	// the worker cannot release payment, and a proof ref is required
	if _, err := env.Engine.ReleasePayment(env.Ctx, m.ID, workerID, "ref-1"); !errors.As(err, &transErr) {
		t.Fatalf("expected worker blocked from releasing, got %v", err)
	}
	if _, err := env.Engine.ReleasePayment(env.Ctx, m.ID, ownerID, ""); err == nil {
		t.Fatalf("expected proof ref required")
	}
	m, err = env.Engine.ReleasePayment(env.Ctx, m.ID, ownerID, "blob/receipt-1.png")
	if err != nil || m.PaymentReleasedAt == nil || m.PaymentProofRef == nil {
		t.Fatalf("release: %v", err)
	}
	m, err = env.Engine.ConfirmPaymentReceived(env.Ctx, m.ID, workerID)
	if err != nil || m.Status != domain.MilestoneReceived || m.PaymentReceivedAt == nil {
		t.Fatalf("receive: %v", err)
	}
	// terminal: nothing moves past received
	if _, err := env.Engine.AcceptMilestone(env.Ctx, m.ID, workerID); !errors.As(err, &transErr) {
		t.Fatalf("expected terminal state, got %v", err)
	}
}

func TestHourlyTimesheetFlow(t *testing.T) {
	env := newTestEnv(t)
	opts := engine.AgreementOptions{
		ConversationID:   env.ConvID,
		ActorID:          ownerID,
		StartDate:        "2024-02-01",
		EndDate:          "2024-03-01",
		PaymentMethod:    "mobile_wallet",
		PaymentStructure: domain.PaymentStructureFull,
		IsHourly:         true,
		HourlyRate:       20,
		TotalHours:       10,
	}
	a := proposeAndConfirm(t, env, opts)
	if a.TotalValue() != 200 {
		t.Fatalf("expected budget 200, got %.2f", a.TotalValue())
	}
	// milestones are not for hourly agreements
	if _, err := env.Engine.CreateMilestone(env.Ctx, engine.MilestoneOptions{
		ConversationID: env.ConvID, ActorID: ownerID, Title: "nope", Amount: 50,
	}); err == nil {
		t.Fatalf("expected milestone rejection on hourly agreement")
	}
	// only the worker bills hours
	sheet := engine.TimesheetOptions{
		ConversationID: env.ConvID,
		ActorID:        ownerID,
		HoursWorked:    8,
		WeekStart:      "2024-02-05",
		WeekEnd:        "2024-02-11",
	}
	var roleErr engine.WrongRoleError
	if _, err := env.Engine.SubmitTimesheet(env.Ctx, sheet); !errors.As(err, &roleErr) {
		t.Fatalf("expected worker-only timesheet, got %v", err)
	}
	sheet.ActorID = workerID
	m, err := env.Engine.SubmitTimesheet(env.Ctx, sheet)
	if err != nil {
		t.Fatalf("timesheet: %v", err)
	}
	if m.Amount != 160 {
		t.Fatalf("expected 8h x 20 = 160, got %.2f", m.Amount)
	}
	if m.Status != domain.MilestoneCompleted || m.CompletedAt == nil {
		t.Fatalf("timesheets start completed, got %s", m.Status)
	}
	// budget caps additional hours: 3 more hours would be 60 > 40 left
	sheet.WeekStart, sheet.WeekEnd = "2024-02-12", "2024-02-18"
	sheet.HoursWorked = 3
	var budgetErr engine.BudgetExceededError
	if _, err := env.Engine.SubmitTimesheet(env.Ctx, sheet); !errors.As(err, &budgetErr) {
		t.Fatalf("expected budget error, got %v", err)
	}
	// payment tail works the same as milestones
	m, err = env.Engine.ReleasePayment(env.Ctx, m.ID, ownerID, "blob/wire-1.pdf")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := env.Engine.ConfirmPaymentReceived(env.Ctx, m.ID, workerID); err != nil {
		t.Fatalf("receive: %v", err)
	}
}

func TestMilestoneRequiresConfirmedAgreement(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateMilestone(env.Ctx, engine.MilestoneOptions{
		ConversationID: env.ConvID, ActorID: ownerID, Title: "early", Amount: 10,
	}); err == nil {
		t.Fatalf("expected rejection without agreement")
	}
	if _, err := env.Engine.ProposeAgreement(env.Ctx, fixedTerms(env.ConvID, ownerID)); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateMilestone(env.Ctx, engine.MilestoneOptions{
		ConversationID: env.ConvID, ActorID: ownerID, Title: "still early", Amount: 10,
	}); !errors.Is(err, engine.ErrAgreementNotConfirmed) {
		t.Fatalf("expected rejection while agreement only proposed, got %v", err)
	}
}

func TestDeactivationFreezesWorkerBilling(t *testing.T) {
	env := newTestEnv(t)
	a := proposeAndConfirm(t, env, engine.AgreementOptions{
		ConversationID:   env.ConvID,
		ActorID:          ownerID,
		StartDate:        "2024-02-01",
		EndDate:          "2024-03-01",
		PaymentMethod:    "bank_transfer",
		PaymentStructure: domain.PaymentStructureFull,
		IsHourly:         true,
		HourlyRate:       20,
		TotalHours:       10,
	})
	if a.Status != domain.AgreementAccepted {
		t.Fatalf("setup: %s", a.Status)
	}
	if err := env.Engine.DeactivateConversation(env.Ctx, env.ConvID, ownerID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	sheet := engine.TimesheetOptions{
		ConversationID: env.ConvID,
		ActorID:        workerID,
		HoursWorked:    2,
		WeekStart:      "2024-02-05",
		WeekEnd:        "2024-02-11",
	}
	if _, err := env.Engine.SubmitTimesheet(env.Ctx, sheet); !errors.Is(err, engine.ErrConversationClosed) {
		t.Fatalf("expected billing blocked on deactivated conversation, got %v", err)
	}
}

func TestDeactivationFreezesWorkerTransitions(t *testing.T) {
	env := newTestEnv(t)
	proposeAndConfirm(t, env, fixedTerms(env.ConvID, ownerID))
	done, err := env.Engine.CreateMilestone(env.Ctx, engine.MilestoneOptions{
		ConversationID: env.ConvID, ActorID: ownerID, Title: "done before close", Amount: 200,
	})
	if err != nil {
		t.Fatal(err)
	}
	if done, err = env.Engine.AcceptMilestone(env.Ctx, done.ID, workerID); err != nil {
		t.Fatal(err)
	}
	if done, err = env.Engine.CompleteMilestone(env.Ctx, done.ID, workerID); err != nil {
		t.Fatal(err)
	}
	pending, err := env.Engine.CreateMilestone(env.Ctx, engine.MilestoneOptions{
		ConversationID: env.ConvID, ActorID: ownerID, Title: "still pending", Amount: 100,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeactivateConversation(env.Ctx, env.ConvID, ownerID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	// every worker-side move is refused
	if _, err := env.Engine.AcceptMilestone(env.Ctx, pending.ID, workerID); !errors.Is(err, engine.ErrConversationClosed) {
		t.Fatalf("expected accept blocked, got %v", err)
	}
	if _, err := env.Engine.DeclineMilestone(env.Ctx, pending.ID, workerID); !errors.Is(err, engine.ErrConversationClosed) {
		t.Fatalf("expected decline blocked, got %v", err)
	}
	// the owner's side of the ledger keeps working
	if _, err := env.Engine.ReleasePayment(env.Ctx, done.ID, ownerID, "blob/final-wire.pdf"); err != nil {
		t.Fatalf("owner release: %v", err)
	}
	if _, err := env.Engine.ConfirmPaymentReceived(env.Ctx, done.ID, workerID); !errors.Is(err, engine.ErrConversationClosed) {
		t.Fatalf("expected receipt confirmation blocked, got %v", err)
	}
}

func TestMilestoneListing(t *testing.T) {
	env := newTestEnv(t)
	proposeAndConfirm(t, env, fixedTerms(env.ConvID, ownerID))
	for i, amount := range []float64{100, 150} {
		if _, err := env.Engine.CreateMilestone(env.Ctx, engine.MilestoneOptions{
			ConversationID: env.ConvID, ActorID: ownerID, Title: "m", Amount: amount, DueDate: "2024-02-15",
		}); err != nil {
			t.Fatalf("milestone %d: %v", i, err)
		}
	}
	ms, err := env.Engine.ListMilestones(env.Ctx, env.ConvID, workerID, repo.MilestoneFilters{})
	if err != nil || len(ms) != 2 {
		t.Fatalf("list: %v (%d)", err, len(ms))
	}
	if ms[0].Amount != 100 || ms[1].Amount != 150 {
		t.Fatalf("expected creation order, got %+v", ms)
	}
	pending, err := env.Engine.ListMilestones(env.Ctx, env.ConvID, ownerID, repo.MilestoneFilters{Status: domain.MilestonePending})
	if err != nil || len(pending) != 2 {
		t.Fatalf("filter: %v (%d)", err, len(pending))
	}
	if _, err := env.Engine.ListMilestones(env.Ctx, env.ConvID, "stranger", repo.MilestoneFilters{}); !errors.Is(err, engine.ErrNotParticipant) {
		t.Fatalf("expected visibility enforced, got %v", err)
	}
}
