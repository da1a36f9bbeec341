// internal/handler/email_handler.go
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/mailroomhq/mailroom-backend/internal/model"
	"github.com/mailroomhq/mailroom-backend/internal/service"
)

// EmailHandler holds the dependencies for the email send endpoints.
type EmailHandler struct {
	EmailService *service.EmailService
	Idempotency  *service.IdempotencyService
	Log          *logrus.Logger
}

// SendEmail handles POST /api/v1/emails. With an Idempotency-Key header the
// whole operation runs under the guard: retries replay the first response
// byte for byte.
func (h *EmailHandler) SendEmail(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.team(w, r)
	if !ok {
		return
	}
	key, ok := idempotencyKeyHeader(w, r)
	if !ok {
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		WriteErrorCode(w, "BAD_REQUEST", "failed to read request body")
		return
	}
	var params service.SendEmailParams
	if err := json.Unmarshal(raw, &params); err != nil {
		WriteErrorCode(w, "BAD_REQUEST", "invalid request body: "+err.Error())
		return
	}

	result, _, err := h.Idempotency.Do(r.Context(), teamID, key, json.RawMessage(raw),
		func(ctx context.Context) (json.RawMessage, error) {
			email, err := h.EmailService.Send(ctx, teamID, params)
			if err != nil {
				return nil, err
			}
			return json.Marshal(map[string]string{"emailId": email.ID})
		})
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteRawJSON(w, http.StatusOK, result)
}

// SendBatch handles POST /api/v1/emails/batch: up to 100 emails in one
// request, under the same idempotency semantics as a single send.
func (h *EmailHandler) SendBatch(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.team(w, r)
	if !ok {
		return
	}
	key, ok := idempotencyKeyHeader(w, r)
	if !ok {
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		WriteErrorCode(w, "BAD_REQUEST", "failed to read request body")
		return
	}
	var items []service.SendEmailParams
	if err := json.Unmarshal(raw, &items); err != nil {
		WriteErrorCode(w, "BAD_REQUEST", "invalid request body: "+err.Error())
		return
	}

	result, _, err := h.Idempotency.Do(r.Context(), teamID, key, json.RawMessage(raw),
		func(ctx context.Context) (json.RawMessage, error) {
			emails, err := h.EmailService.SendBatch(ctx, teamID, items)
			if err != nil {
				return nil, err
			}
			data := make([]map[string]string, len(emails))
			for i, email := range emails {
				data[i] = map[string]string{"emailId": email.ID}
			}
			return json.Marshal(map[string]any{"data": data})
		})
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteRawJSON(w, http.StatusOK, result)
}

// GetEmail handles GET /api/v1/emails/{id}.
func (h *EmailHandler) GetEmail(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.team(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	email, events, err := h.EmailService.Get(r.Context(), teamID, id)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, struct {
		*model.Email
		EmailEvents []model.EmailEvent `json:"emailEvents"`
	}{email, events})
}

// UpdateEmail handles PATCH /api/v1/emails/{id}: reschedule a still-pending
// email.
func (h *EmailHandler) UpdateEmail(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.team(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var body struct {
		ScheduledAt string `json:"scheduledAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteErrorCode(w, "BAD_REQUEST", "invalid request body: "+err.Error())
		return
	}
	scheduledAt, err := time.Parse(time.RFC3339, body.ScheduledAt)
	if err != nil {
		WriteErrorCode(w, "BAD_REQUEST", "scheduledAt must be RFC 3339")
		return
	}

	email, err := h.EmailService.Reschedule(r.Context(), teamID, id, scheduledAt)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"emailId": email.ID})
}

// CancelEmail handles POST /api/v1/emails/{id}/cancel.
func (h *EmailHandler) CancelEmail(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.team(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	email, err := h.EmailService.Cancel(r.Context(), teamID, id)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"emailId": email.ID})
}

func (h *EmailHandler) team(w http.ResponseWriter, r *http.Request) (int64, bool) {
	teamID, ok := TeamFromContext(r.Context())
	if !ok {
		WriteErrorCode(w, "UNAUTHORIZED", "no team on request")
	}
	return teamID, ok
}

// idempotencyKeyHeader validates the optional Idempotency-Key header. An
// absent header disables the guard.
func idempotencyKeyHeader(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.Header.Get("Idempotency-Key")
	if len(key) > model.IdempotencyKeyMaxLen {
		WriteErrorCode(w, "BAD_REQUEST",
			fmt.Sprintf("Idempotency-Key must be at most %d characters", model.IdempotencyKeyMaxLen))
		return "", false
	}
	return key, true
}
