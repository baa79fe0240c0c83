package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/smy-billing/backend-go/internal/domain"
	"github.com/andresuchdata/smy-billing/backend-go/internal/invoicing"
	"github.com/andresuchdata/smy-billing/backend-go/internal/service"
)

type InvoiceHandler struct {
	service *service.InvoiceService
}

func NewInvoiceHandler(service *service.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{service: service}
}

type generateRequest struct {
	InvoiceType string  `json:"invoice_type" binding:"required"`
	PeriodStart string  `json:"period_start" binding:"required"`
	PeriodEnd   string  `json:"period_end" binding:"required"`
	IssueDate   string  `json:"issue_date"`
	DueDate     string  `json:"due_date"`
	TargetIDs   []int64 `json:"target_ids"`
}

func (r generateRequest) params() (invoicing.Params, error) {
	p := invoicing.Params{
		InvoiceType: domain.InvoiceType(r.InvoiceType),
		TargetIDs:   r.TargetIDs,
	}
	var err error
	if p.PeriodStart, err = parseOptionalDate("period_start", r.PeriodStart); err != nil {
		return p, err
	}
	if p.PeriodEnd, err = parseOptionalDate("period_end", r.PeriodEnd); err != nil {
		return p, err
	}
	if p.IssueDate, err = parseOptionalDate("issue_date", r.IssueDate); err != nil {
		return p, err
	}
	if p.DueDate, err = parseOptionalDate("due_date", r.DueDate); err != nil {
		return p, err
	}
	return p, nil
}

func (h *InvoiceHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	params, err := req.params()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.Generate(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *InvoiceHandler) List(c *gin.Context) {
	filter, err := parseInvoiceFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	invoices, err := h.service.ListInvoices(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"invoices": invoices,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

func (h *InvoiceHandler) Get(c *gin.Context) {
	id, ok := invoiceID(c)
	if !ok {
		return
	}
	inv, err := h.service.GetInvoice(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *InvoiceHandler) UpdateStatus(c *gin.Context) {
	id, ok := invoiceID(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inv, err := h.service.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *InvoiceHandler) Delete(c *gin.Context) {
	id, ok := invoiceID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteInvoice(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func invoiceID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
		return 0, false
	}
	return id, true
}

func parseInvoiceFilter(c *gin.Context) (domain.InvoiceFilter, error) {
	filter := domain.InvoiceFilter{
		CompanyCode: strings.TrimSpace(c.Query("company_code")),
		Limit:       parsePositiveIntWithDefault(c.Query("limit"), 50),
		Offset:      parseNonNegativeInt(c.Query("offset")),
	}

	if raw := c.Query("status"); raw != "" {
		status, ok := domain.ParseInvoiceStatus(raw)
		if !ok {
			return filter, fmt.Errorf("unknown status %q", raw)
		}
		filter.Status = status
	}
	if raw := c.Query("type"); raw != "" {
		t, ok := domain.ParseInvoiceType(raw)
		if !ok {
			return filter, fmt.Errorf("unknown invoice type %q", raw)
		}
		filter.Type = t
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{
		{"period_start", &filter.PeriodStart},
		{"period_end", &filter.PeriodEnd},
	} {
		d, err := parseOptionalDate(p.name, c.Query(p.name))
		if err != nil {
			return filter, err
		}
		if !d.IsZero() {
			*p.dst = &d
		}
	}
	return filter, nil
}

// parseOptionalDate parses YYYY-MM-DD; empty input yields the zero time.
func parseOptionalDate(name, raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	d, err := domain.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD", name)
	}
	return d, nil
}
