package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gigline/internal/config"
	"gigline/internal/domain"
	"gigline/internal/events"
	"gigline/internal/repo"
)

// Notifier receives committed message inserts for real-time fan-out.
type Notifier interface {
	MessagePosted(msg domain.Message)
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Notifier Notifier
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) notify(msgs []domain.Message) {
	if e.Notifier == nil {
		return
	}
	for _, m := range msgs {
		e.Notifier.MessagePosted(m)
	}
}

// RegisterJob records an externally owned job so the workflow can resolve
// references against it and flip its status. Kind is the online/offline
// discriminant, fixed once here.
func (e Engine) RegisterJob(ctx context.Context, id, ownerID, kind, title string) (domain.Job, error) {
	if id == "" || ownerID == "" || title == "" {
		return domain.Job{}, validationErrorf("id, owner and title are required")
	}
	if kind != domain.JobKindOnline && kind != domain.JobKindOffline {
		return domain.Job{}, validationErrorf("kind must be %s or %s", domain.JobKindOnline, domain.JobKindOffline)
	}
	j := domain.Job{
		ID:        id,
		OwnerID:   ownerID,
		Kind:      kind,
		Title:     title,
		Status:    "open",
		CreatedAt: e.nowStr(),
	}
	if err := e.Repo.InsertJob(ctx, repo.JobRecord(j)); err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

// RegisterProposal records an externally owned proposal against a job.
func (e Engine) RegisterProposal(ctx context.Context, id, jobID, ownerID, coverNote string) (domain.Proposal, error) {
	if id == "" || jobID == "" || ownerID == "" {
		return domain.Proposal{}, validationErrorf("id, job and owner are required")
	}
	job, err := e.Repo.GetJob(ctx, nil, jobID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Proposal{}, ErrInvalidReference
		}
		return domain.Proposal{}, err
	}
	if job.OwnerID == ownerID {
		return domain.Proposal{}, validationErrorf("job owner cannot propose on their own job")
	}
	p := domain.Proposal{
		ID:        id,
		JobID:     jobID,
		OwnerID:   ownerID,
		Status:    "submitted",
		CoverNote: coverNote,
		CreatedAt: e.nowStr(),
	}
	if err := e.Repo.InsertProposal(ctx, repo.ProposalRecord(p)); err != nil {
		return domain.Proposal{}, fmt.Errorf("insert proposal: %w", err)
	}
	return p, nil
}

// GetOrCreateConversation returns the single conversation for the
// (job, proposal) pair, creating it on first access. Creation is an
// upsert keyed on the pair, so concurrent calls from both parties
// converge on one record.
func (e Engine) GetOrCreateConversation(ctx context.Context, jobID, proposalID, jobOwnerID, proposalOwnerID string) (domain.Conversation, error) {
	for _, id := range []string{jobID, proposalID, jobOwnerID, proposalOwnerID} {
		if strings.TrimSpace(id) == "" {
			return domain.Conversation{}, ErrInvalidReference
		}
	}
	job, err := e.Repo.GetJob(ctx, nil, jobID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Conversation{}, ErrInvalidReference
		}
		return domain.Conversation{}, err
	}
	prop, err := e.Repo.GetProposal(ctx, nil, proposalID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Conversation{}, ErrInvalidReference
		}
		return domain.Conversation{}, err
	}
	if prop.JobID != jobID || job.OwnerID != jobOwnerID || prop.OwnerID != proposalOwnerID {
		return domain.Conversation{}, ErrInvalidReference
	}

	candidate := domain.Conversation{
		ID:              uuid.New().String(),
		JobID:           jobID,
		ProposalID:      proposalID,
		JobOwnerID:      jobOwnerID,
		ProposalOwnerID: proposalOwnerID,
		IsActive:        true,
		CreatedAt:       e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Conversation{}, err
	}
	defer tx.Rollback()

	conv, err := e.Repo.UpsertConversation(ctx, tx, candidate)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("upsert conversation: %w", err)
	}
	if conv.ID == candidate.ID {
		if err := e.Events.Append(ctx, tx, "conversation.created", conv.ID, "conversation", conv.ID, jobOwnerID, events.EventPayload{
			"job_id":      jobID,
			"proposal_id": proposalID,
		}); err != nil {
			return domain.Conversation{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

// GetConversation enforces the visibility rule: the job owner always sees
// the conversation, the proposal owner only while it is active.
func (e Engine) GetConversation(ctx context.Context, id, actorID string) (domain.Conversation, error) {
	conv, err := e.Repo.GetConversation(ctx, nil, id)
	if err != nil {
		return domain.Conversation{}, err
	}
	switch actorID {
	case conv.JobOwnerID:
		return conv, nil
	case conv.ProposalOwnerID:
		if !conv.IsActive {
			return domain.Conversation{}, ErrConversationClosed
		}
		return conv, nil
	default:
		return domain.Conversation{}, ErrNotParticipant
	}
}

// DeactivateConversation hides the conversation from the proposal owner
// without deleting history. Job owner only.
func (e Engine) DeactivateConversation(ctx context.Context, id, actorID string) error {
	conv, err := e.Repo.GetConversation(ctx, nil, id)
	if err != nil {
		return err
	}
	if actorID != conv.JobOwnerID {
		return WrongRoleError{Op: "deactivating a conversation", Required: "job owner"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetConversationActive(ctx, tx, id, false); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "conversation.deactivated", id, "conversation", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// participantRole classifies the actor within a conversation.
func participantRole(conv domain.Conversation, actorID string) (role string, err error) {
	switch actorID {
	case conv.JobOwnerID:
		return "owner", nil
	case conv.ProposalOwnerID:
		return "worker", nil
	default:
		return "", ErrNotParticipant
	}
}
