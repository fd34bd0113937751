package http

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/himo777777/Ortokompanion-sub000/internal/application/command"
	"github.com/himo777777/Ortokompanion-sub000/internal/application/query"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/band"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/learner"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/progression"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/shared"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/srs"
	"github.com/himo777777/Ortokompanion-sub000/internal/domain/topic"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{
		"name":        "Ortokompanion Scheduler API",
		"version":     s.config.Version,
		"description": "Spaced repetition, difficulty bands and daily session plans for orthopaedic training",
		"endpoints": gin.H{
			"health":     "/health",
			"learners":   "/api/v1/learners",
			"daily_mix":  "/api/v1/learners/{id}/daily-mix",
			"due":        "/api/v1/learners/{id}/reviews/due",
			"progress":   "/api/v1/learners/{id}/progress",
			"sessions":   "/api/v1/learners/{id}/sessions",
			"gate_event": "/api/v1/learners/{id}/domains/{domain}/gate-events",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.HealthChecker.Check(c.Request.Context())
	if status.Version == "" {
		status.Version = s.config.Version
	}
	if !status.Healthy {
		writeJSON(c, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(c, http.StatusOK, status)
}

// handleReady is the readiness check.
func (s *Server) handleReady(c *gin.Context) {
	status := s.deps.HealthChecker.Check(c.Request.Context())
	if !status.Ready {
		writeJSON(c, http.StatusServiceUnavailable, gin.H{"status": "not_ready", "reason": status.Message})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ready"})
}

// handleLive is the liveness check.
func (s *Server) handleLive(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// LEARNER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// OnboardLearnerRequest is the body of POST /api/v1/learners.
type OnboardLearnerRequest struct {
	LearnerID          string   `json:"learner_id"`
	EducationLevel     string   `json:"education_level" binding:"required"`
	PrimaryDomain      string   `json:"primary_domain" binding:"required"`
	SecondaryInterests []string `json:"secondary_interests"`
	Timezone           string   `json:"timezone"`
	TargetMinutes      int      `json:"target_minutes" binding:"gte=0,lte=240"`
}

// LearnerResponse is a learner as served by the API.
type LearnerResponse struct {
	ID                 string         `json:"id"`
	EducationLevel     string         `json:"education_level"`
	PrimaryDomain      topic.Domain   `json:"primary_domain"`
	SecondaryInterests []topic.Domain `json:"secondary_interests"`
	Timezone           string         `json:"timezone"`
	TargetMinutes      int            `json:"target_minutes"`
	CreatedAt          time.Time      `json:"created_at"`
}

// DomainStatusResponse is one domain's progression state.
type DomainStatusResponse struct {
	Domain         topic.Domain             `json:"domain"`
	State          progression.State        `json:"state"`
	ItemsCompleted int                      `json:"items_completed"`
	TotalItems     int                      `json:"total_items"`
	CompletionRate float64                  `json:"completion_rate"`
	Gate           progression.GateProgress `json:"gate"`
	Missing        []string                 `json:"missing,omitempty"`
	UnlockedAt     *time.Time               `json:"unlocked_at,omitempty"`
	CompletedAt    *time.Time               `json:"completed_at,omitempty"`
	NextSuggested  topic.Domain             `json:"next_suggested,omitempty"`
}

// OnboardLearnerResponse is returned after onboarding.
type OnboardLearnerResponse struct {
	Learner          LearnerResponse        `json:"learner"`
	StartingBand     band.Band              `json:"starting_band"`
	FirstSessionBand band.Band              `json:"first_session_band"`
	Domains          []DomainStatusResponse `json:"domains"`
}

func (s *Server) handleOnboardLearner(c *gin.Context) {
	if s.deps.OnboardLearner == nil {
		notImplemented(c)
		return
	}

	var req OnboardLearnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSONErrorWithDetails(c, http.StatusBadRequest, "invalid_request", "malformed onboarding request", err.Error())
		return
	}
	level := band.EducationLevel(req.EducationLevel)
	if !slices.Contains(band.EducationLevels(), level) {
		writeJSONError(c, http.StatusBadRequest, "invalid_request", "unknown education_level "+req.EducationLevel)
		return
	}

	interests := make([]topic.Domain, 0, len(req.SecondaryInterests))
	for _, d := range req.SecondaryInterests {
		interests = append(interests, topic.Domain(d))
	}

	res, err := s.deps.OnboardLearner.Handle(c.Request.Context(), command.OnboardLearnerCommand{
		LearnerID:          req.LearnerID,
		EducationLevel:     level,
		PrimaryDomain:      topic.Domain(req.PrimaryDomain),
		SecondaryInterests: interests,
		Timezone:           req.Timezone,
		TargetMinutes:      req.TargetMinutes,
	})
	if err != nil {
		s.writeDomainError(c, err)
		return
	}

	domains := make([]DomainStatusResponse, 0, len(res.Domains))
	for _, st := range res.Domains {
		domains = append(domains, toDomainStatusResponse(st))
	}
	writeJSON(c, http.StatusCreated, OnboardLearnerResponse{
		Learner:          toLearnerResponse(res.Learner),
		StartingBand:     res.StartingBand,
		FirstSessionBand: res.FirstSessionBand,
		Domains:          domains,
	})
}

func (s *Server) handleGetLearner(c *gin.Context) {
	if s.deps.Learners == nil {
		notImplemented(c)
		return
	}
	l, err := s.deps.Learners.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toLearnerResponse(l))
}

func (s *Server) handleListLearners(c *gin.Context) {
	if s.deps.Learners == nil {
		notImplemented(c)
		return
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	size, err := queryInt(c, "page_size", shared.DefaultPageSize)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}

	p := shared.NewPagination(page, size)
	learners, err := s.deps.Learners.List(c.Request.Context(), p)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}

	out := make([]LearnerResponse, 0, len(learners))
	for _, l := range learners {
		out = append(out, toLearnerResponse(l))
	}
	writeJSONWithMeta(c, http.StatusOK, out, &ResponseMeta{
		Page:     p.Page,
		PageSize: p.Limit(),
		HasMore:  len(out) == p.Limit(),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SessionItemRequest is the telemetry of one answered item.
type SessionItemRequest struct {
	ContentID        string   `json:"content_id" binding:"required"`
	Correct          bool     `json:"correct"`
	HintsUsed        int      `json:"hints_used" binding:"gte=0"`
	TimeSpentSeconds int      `json:"time_spent_seconds" binding:"gte=0"`
	ExpectedSeconds  int      `json:"expected_seconds" binding:"gte=0"`
	Confidence       *float64 `json:"confidence" binding:"omitempty,gte=0,lte=1"`
}

// RecordSessionRequest is the body of POST /api/v1/learners/{id}/sessions.
type RecordSessionRequest struct {
	Items       []SessionItemRequest `json:"items" binding:"required,min=1,dive"`
	CompletedAt *time.Time           `json:"completed_at"`
}

// ItemReviewResponse is the scheduling outcome of one item.
type ItemReviewResponse struct {
	ContentID    string       `json:"content_id"`
	CardID       string       `json:"card_id"`
	Domain       topic.Domain `json:"domain"`
	Grade        srs.Grade    `json:"grade"`
	NewCard      bool         `json:"new_card"`
	IntervalDays int          `json:"interval_days"`
	DueDate      time.Time    `json:"due_date"`
	Stability    float64      `json:"stability"`
	BecameLeech  bool         `json:"became_leech"`
}

// RecordSessionResponse is returned after a session was recorded.
type RecordSessionResponse struct {
	LearnerID        string               `json:"learner_id"`
	Reviews          []ItemReviewResponse `json:"reviews"`
	Day              band.DayPerformance  `json:"day"`
	Band             band.Band            `json:"band"`
	Streak           int                  `json:"streak"`
	Adjustment       *band.Adjustment     `json:"adjustment,omitempty"`
	GatedDomains     []topic.Domain       `json:"gated_domains,omitempty"`
	CompletedDomains []topic.Domain       `json:"completed_domains,omitempty"`
	Events           []shared.EventType   `json:"events"`
	RecordedAt       time.Time            `json:"recorded_at"`
}

func (s *Server) handleRecordSession(c *gin.Context) {
	if s.deps.RecordSession == nil {
		notImplemented(c)
		return
	}

	var req RecordSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSONErrorWithDetails(c, http.StatusBadRequest, "invalid_request", "malformed session", err.Error())
		return
	}

	cmd := command.RecordSessionCommand{LearnerID: c.Param("id")}
	if req.CompletedAt != nil {
		cmd.CompletedAt = *req.CompletedAt
	}
	for _, it := range req.Items {
		cmd.Items = append(cmd.Items, command.SessionItem{
			ContentID:        it.ContentID,
			Correct:          it.Correct,
			HintsUsed:        it.HintsUsed,
			TimeSpentSeconds: it.TimeSpentSeconds,
			ExpectedSeconds:  it.ExpectedSeconds,
			Confidence:       it.Confidence,
		})
	}

	res, err := s.deps.RecordSession.Handle(c.Request.Context(), cmd)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}

	reviews := make([]ItemReviewResponse, 0, len(res.Reviews))
	for _, r := range res.Reviews {
		reviews = append(reviews, ItemReviewResponse(r))
	}
	writeJSON(c, http.StatusOK, RecordSessionResponse{
		LearnerID:        res.LearnerID,
		Reviews:          reviews,
		Day:              res.Day,
		Band:             res.Band,
		Streak:           res.Streak,
		Adjustment:       res.Adjustment,
		GatedDomains:     res.GatedDomains,
		CompletedDomains: res.CompletedDomains,
		Events:           eventTypes(res.Events),
		RecordedAt:       res.RecordedAt,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// PLAN & PROGRESS QUERIES
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetDailyMix(c *gin.Context) {
	if s.deps.GetDailyMix == nil {
		notImplemented(c)
		return
	}
	refresh, err := queryBool(c, "refresh")
	if err != nil {
		s.writeDomainError(c, err)
		return
	}

	res, err := s.deps.GetDailyMix.Handle(c.Request.Context(), query.GetDailyMixQuery{
		LearnerID: c.Param("id"),
		Date:      c.Query("date"),
		Refresh:   refresh,
	})
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (s *Server) handleGetDueReviews(c *gin.Context) {
	if s.deps.GetDueReviews == nil {
		notImplemented(c)
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	leeches, err := queryBool(c, "include_leeches")
	if err != nil {
		s.writeDomainError(c, err)
		return
	}

	res, err := s.deps.GetDueReviews.Handle(c.Request.Context(), query.GetDueReviewsQuery{
		LearnerID:      c.Param("id"),
		Limit:          limit,
		IncludeLeeches: leeches,
	})
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (s *Server) handleGetProgress(c *gin.Context) {
	if s.deps.GetProgress == nil {
		notImplemented(c)
		return
	}
	includeLocked, err := queryBool(c, "include_locked")
	if err != nil {
		s.writeDomainError(c, err)
		return
	}

	res, err := s.deps.GetProgress.Handle(c.Request.Context(), query.GetProgressQuery{
		LearnerID:     c.Param("id"),
		IncludeLocked: includeLocked,
	})
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN GATE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// GateEventRequest reports an externally assessed gate criterion. Band is the
// letter the assessment was set at and defaults to A.
type GateEventRequest struct {
	Event string    `json:"event" binding:"required,oneof=mini_osce_passed complication_case_passed"`
	Band  band.Band `json:"band"`
}

// GateEventResponse is the domain after the event was applied.
type GateEventResponse struct {
	Domain          DomainStatusResponse `json:"domain"`
	DomainCompleted bool                 `json:"domain_completed"`
	Events          []shared.EventType   `json:"events"`
}

func (s *Server) handleRecordGateEvent(c *gin.Context) {
	if s.deps.RecordGateEvent == nil {
		notImplemented(c)
		return
	}

	var req GateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSONErrorWithDetails(c, http.StatusBadRequest, "invalid_request", "malformed gate event", err.Error())
		return
	}

	res, err := s.deps.RecordGateEvent.Handle(c.Request.Context(), command.RecordGateEventCommand{
		LearnerID: c.Param("id"),
		Domain:    topic.Domain(c.Param("domain")),
		Event:     progression.GateEvent(req.Event),
		Band:      req.Band,
	})
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, GateEventResponse{
		Domain:          toDomainStatusResponse(res.Domain),
		DomainCompleted: res.DomainCompleted,
		Events:          eventTypes(res.Events),
	})
}

// RetentionCheckResponse is a scheduled or evaluated retention check.
type RetentionCheckResponse struct {
	ID                string       `json:"id"`
	LearnerID         string       `json:"learner_id"`
	Domain            topic.Domain `json:"domain"`
	CardIDs           []string     `json:"card_ids"`
	CreatedAt         time.Time    `json:"created_at"`
	ScheduledFor      time.Time    `json:"scheduled_for"`
	RequiredStability float64      `json:"required_stability"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
	ObservedStability *float64     `json:"observed_stability,omitempty"`
}

// CompleteRetentionCheckResponse is the evaluated check and its domain.
type CompleteRetentionCheckResponse struct {
	Check           RetentionCheckResponse `json:"check"`
	Passed          bool                   `json:"passed"`
	Domain          DomainStatusResponse   `json:"domain"`
	DomainCompleted bool                   `json:"domain_completed"`
	Events          []shared.EventType     `json:"events"`
}

func (s *Server) handleScheduleRetentionCheck(c *gin.Context) {
	if s.deps.ScheduleRetentionCheck == nil {
		notImplemented(c)
		return
	}

	check, err := s.deps.ScheduleRetentionCheck.Handle(c.Request.Context(), command.ScheduleRetentionCheckCommand{
		LearnerID: c.Param("id"),
		Domain:    topic.Domain(c.Param("domain")),
	})
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toRetentionCheckResponse(*check))
}

func (s *Server) handleCompleteRetentionCheck(c *gin.Context) {
	if s.deps.CompleteRetentionCheck == nil {
		notImplemented(c)
		return
	}

	res, err := s.deps.CompleteRetentionCheck.Handle(c.Request.Context(), command.CompleteRetentionCheckCommand{
		CheckID: c.Param("id"),
	})
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, CompleteRetentionCheckResponse{
		Check:           toRetentionCheckResponse(res.Check),
		Passed:          res.Passed,
		Domain:          toDomainStatusResponse(res.Domain),
		DomainCompleted: res.DomainCompleted,
		Events:          eventTypes(res.Events),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func toLearnerResponse(l *learner.Learner) LearnerResponse {
	interests := l.SecondaryInterests
	if interests == nil {
		interests = []topic.Domain{}
	}
	return LearnerResponse{
		ID:                 l.ID,
		EducationLevel:     string(l.EducationLevel),
		PrimaryDomain:      l.PrimaryDomain,
		SecondaryInterests: interests,
		Timezone:           l.Timezone,
		TargetMinutes:      l.TargetMinutes,
		CreatedAt:          l.CreatedAt,
	}
}

func toDomainStatusResponse(st progression.Status) DomainStatusResponse {
	return DomainStatusResponse{
		Domain:         st.Domain,
		State:          st.State,
		ItemsCompleted: st.ItemsCompleted,
		TotalItems:     st.TotalItems,
		CompletionRate: st.CompletionRate(),
		Gate:           st.Gate,
		Missing:        st.Gate.Missing(),
		UnlockedAt:     st.UnlockedAt,
		CompletedAt:    st.CompletedAt,
		NextSuggested:  st.NextSuggested,
	}
}

func toRetentionCheckResponse(rc progression.RetentionCheck) RetentionCheckResponse {
	return RetentionCheckResponse{
		ID:                rc.ID,
		LearnerID:         rc.LearnerID,
		Domain:            rc.Domain,
		CardIDs:           rc.CardIDs,
		CreatedAt:         rc.CreatedAt,
		ScheduledFor:      rc.ScheduledFor,
		RequiredStability: rc.RequiredStability,
		CompletedAt:       rc.CompletedAt,
		ObservedStability: rc.ObservedStability,
	}
}

func eventTypes(events []shared.Event) []shared.EventType {
	out := make([]shared.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType())
	}
	return out
}
