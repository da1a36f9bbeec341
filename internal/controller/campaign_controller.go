// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/mailroomhq/mailroom-backend/internal/handler"
	"github.com/mailroomhq/mailroom-backend/internal/service"
)

// CampaignController exposes the campaign lifecycle over HTTP.
type CampaignController struct {
	Scheduler *service.CampaignScheduler
	Log       *logrus.Logger
}

// CreateCampaign handles POST /api/v1/campaigns.
func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	teamID, ok := c.team(w, r)
	if !ok {
		return
	}

	var body struct {
		Name          string   `json:"name"`
		From          string   `json:"from"`
		Subject       string   `json:"subject"`
		PreviewText   *string  `json:"previewText"`
		ReplyTo       []string `json:"replyTo"`
		CC            []string `json:"cc"`
		BCC           []string `json:"bcc"`
		Content       *string  `json:"content"`
		ContactBookID *string  `json:"contactBookId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handler.WriteErrorCode(w, "BAD_REQUEST", "invalid request body: "+err.Error())
		return
	}

	campaign, err := c.Scheduler.Create(r.Context(), teamID, service.CreateCampaignParams{
		Name:          body.Name,
		From:          body.From,
		Subject:       body.Subject,
		PreviewText:   body.PreviewText,
		ReplyTo:       body.ReplyTo,
		CC:            body.CC,
		BCC:           body.BCC,
		Content:       body.Content,
		ContactBookID: body.ContactBookID,
	})
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}

// GetCampaign handles GET /api/v1/campaigns/{id}.
func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	teamID, ok := c.team(w, r)
	if !ok {
		return
	}

	campaign, err := c.Scheduler.Get(r.Context(), teamID, chi.URLParam(r, "id"))
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}

// ScheduleCampaign handles POST /api/v1/campaigns/{id}/schedule. An absent
// scheduledAt means now.
func (c *CampaignController) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	teamID, ok := c.team(w, r)
	if !ok {
		return
	}

	var body struct {
		ScheduledAt *string `json:"scheduledAt"`
		BatchSize   *int    `json:"batchSize"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handler.WriteErrorCode(w, "BAD_REQUEST", "invalid request body: "+err.Error())
		return
	}

	params := service.ScheduleParams{BatchSize: body.BatchSize}
	if body.ScheduledAt != nil {
		t, err := time.Parse(time.RFC3339, *body.ScheduledAt)
		if err != nil {
			handler.WriteErrorCode(w, "BAD_REQUEST", "scheduledAt must be RFC 3339")
			return
		}
		params.ScheduledAt = &t
	}

	campaign, err := c.Scheduler.Schedule(r.Context(), teamID, chi.URLParam(r, "id"), params)
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}

// PauseCampaign handles POST /api/v1/campaigns/{id}/pause.
func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	teamID, ok := c.team(w, r)
	if !ok {
		return
	}

	campaign, err := c.Scheduler.Pause(r.Context(), teamID, chi.URLParam(r, "id"))
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}

// ResumeCampaign handles POST /api/v1/campaigns/{id}/resume.
func (c *CampaignController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	teamID, ok := c.team(w, r)
	if !ok {
		return
	}

	campaign, err := c.Scheduler.Resume(r.Context(), teamID, chi.URLParam(r, "id"))
	if err != nil {
		handler.WriteError(w, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) team(w http.ResponseWriter, r *http.Request) (int64, bool) {
	teamID, ok := handler.TeamFromContext(r.Context())
	if !ok {
		handler.WriteErrorCode(w, "UNAUTHORIZED", "no team on request")
	}
	return teamID, ok
}
