package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devnight0507/reverse-bot/internal/model"
	"github.com/devnight0507/reverse-bot/internal/store"
)

type createApplicantRequest struct {
	FirstName      string `json:"first_name" binding:"required"`
	LastName       string `json:"last_name" binding:"required"`
	Email          string `json:"email" binding:"required,email"`
	Phone          string `json:"phone"`
	PassportNumber string `json:"passport_number" binding:"required"`
	DateOfBirth    string `json:"date_of_birth"`
	Nationality    string `json:"nationality"`

	CredentialKey  string `json:"credential_key" binding:"required"`
	PortalEmail    string `json:"portal_email" binding:"required,email"`
	PortalPassword string `json:"portal_password" binding:"required"`

	Center      string `json:"center" binding:"required"`
	Category    string `json:"category" binding:"required"`
	Subcategory string `json:"subcategory"`
	WindowStart string `json:"window_start" binding:"required"`
	WindowEnd   string `json:"window_end" binding:"required"`
}

// CreateApplicant registers a new applicant for monitoring.
func (h *Handler) CreateApplicant(c *gin.Context) {
	var req createApplicantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start, err := time.Parse("2006-01-02", req.WindowStart)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window_start must be YYYY-MM-DD"})
		return
	}
	end, err := time.Parse("2006-01-02", req.WindowEnd)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window_end must be YYYY-MM-DD"})
		return
	}
	if end.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window_end is before window_start"})
		return
	}

	applicant := model.Applicant{
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Email:          req.Email,
		Phone:          req.Phone,
		PassportNumber: req.PassportNumber,
		DateOfBirth:    req.DateOfBirth,
		Nationality:    req.Nationality,
		CredentialKey:  req.CredentialKey,
		PortalEmail:    req.PortalEmail,
		PortalPassword: req.PortalPassword,
		Center:         req.Center,
		Category:       req.Category,
		Subcategory:    req.Subcategory,
		WindowStart:    start,
		WindowEnd:      end,
		Status:         model.ApplicantMonitoring,
	}
	if err := h.store.CreateApplicant(c.Request.Context(), &applicant); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, applicant)
}

// ListApplicants returns all applicants.
func (h *Handler) ListApplicants(c *gin.Context) {
	applicants, err := h.store.ListApplicants(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, applicants)
}

// GetApplicant returns one applicant by id.
func (h *Handler) GetApplicant(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	applicant, err := h.store.GetApplicant(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "applicant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, applicant)
}

// GetApplicantAttempts returns the booking attempt audit trail for one
// applicant, newest first.
func (h *Handler) GetApplicantAttempts(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	attempts, err := h.store.ListAttempts(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, attempts)
}

type eventResponse struct {
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// GetApplicantEvents returns the lifecycle event history for one
// applicant, newest first.
func (h *Handler) GetApplicantEvents(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := h.store.ListEvents(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]eventResponse, 0, len(records))
	for _, r := range records {
		out = append(out, eventResponse{Kind: r.Kind, Detail: r.Detail, CreatedAt: r.CreatedAt})
	}
	c.JSON(http.StatusOK, out)
}

func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid applicant id"})
		return 0, false
	}
	return uint(id), true
}
