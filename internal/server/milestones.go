package server

import (
	"bytes"
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"gigline/internal/blob"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/repo"
)

func registerMilestones(api huma.API, e engine.Engine, blobs blob.Store) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-milestone",
		Method:        http.MethodPost,
		Path:          "/conversations/{id}/milestones",
		Summary:       "Plan milestone",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body CreateMilestoneRequest `json:"body"`
	}) (*struct {
		Body domain.Milestone `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CreateMilestone(ctx, engine.MilestoneOptions{
			ConversationID: input.ID,
			ActorID:        actorID,
			Title:          input.Body.Title,
			Description:    input.Body.Description,
			Amount:         input.Body.Amount,
			DueDate:        input.Body.DueDate,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Milestone `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-timesheet",
		Method:        http.MethodPost,
		Path:          "/conversations/{id}/timesheets",
		Summary:       "Submit timesheet",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body SubmitTimesheetRequest `json:"body"`
	}) (*struct {
		Body domain.Milestone `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.SubmitTimesheet(ctx, engine.TimesheetOptions{
			ConversationID: input.ID,
			ActorID:        actorID,
			HoursWorked:    input.Body.HoursWorked,
			WeekStart:      input.Body.WeekStart,
			WeekEnd:        input.Body.WeekEnd,
			Description:    input.Body.Description,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Milestone `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-milestones",
		Method:      http.MethodGet,
		Path:        "/conversations/{id}/milestones",
		Summary:     "List milestones",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Status string `query:"status"`
	}) (*struct {
		Body []domain.Milestone `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListMilestones(ctx, input.ID, actorID, repo.MilestoneFilters{Status: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Milestone{}
		}
		return &struct {
			Body []domain.Milestone `json:"body"`
		}{Body: items}, nil
	})

	transition := func(op, pathSuffix string, fn func(ctx context.Context, id, actorID string) (domain.Milestone, error)) {
		huma.Register(api, huma.Operation{
			OperationID: op,
			Method:      http.MethodPost,
			Path:        "/milestones/{id}/" + pathSuffix,
			Summary:     "Milestone: " + pathSuffix,
			Errors: []int{
				http.StatusForbidden,
				http.StatusNotFound,
				http.StatusConflict,
			},
		}, func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*struct {
			Body domain.Milestone `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			m, err := fn(ctx, input.ID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.Milestone `json:"body"`
			}{Body: m}, nil
		})
	}
	transition("accept-milestone", "accept", e.AcceptMilestone)
	transition("decline-milestone", "decline", e.DeclineMilestone)
	transition("complete-milestone", "complete", e.CompleteMilestone)
	transition("confirm-payment-received", "confirm-received", e.ConfirmPaymentReceived)

	huma.Register(api, huma.Operation{
		OperationID: "release-payment",
		Method:      http.MethodPost,
		Path:        "/milestones/{id}/release",
		Summary:     "Release payment with proof",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body ReleasePaymentRequest `json:"body"`
	}) (*struct {
		Body domain.Milestone `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.ReleasePayment(ctx, input.ID, actorID, input.Body.ProofRef)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Milestone `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "upload-proof",
		Method:        http.MethodPost,
		Path:          "/proofs",
		Summary:       "Upload payment proof",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Ext     string `query:"ext"`
		RawBody []byte
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if blobs == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "blob storage is not configured", nil)
		}
		if len(input.RawBody) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		ref, err := blobs.SaveProof(ctx, bytes.NewReader(input.RawBody), input.Ext)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{
			"ref": ref,
			"url": blobs.PublicURL(ref),
		}}, nil
	})
}
