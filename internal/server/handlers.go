package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/daeun-ops/promql-assistant-cli/internal/engine"
	"github.com/daeun-ops/promql-assistant-cli/internal/errors"
	"github.com/daeun-ops/promql-assistant-cli/internal/observability"
	"github.com/daeun-ops/promql-assistant-cli/internal/promapi"
)

// TranslateRequest is the body of POST /api/v1/translate
type TranslateRequest struct {
	Phrase string `json:"phrase"`
}

// TranslateResponse carries the translation and its provenance
type TranslateResponse struct {
	Phrase   string              `json:"phrase"`
	Query    string              `json:"query"`
	RuleID   string              `json:"rule_id"`
	Trace    []engine.TraceEntry `json:"trace"`
	Warnings []string            `json:"warnings,omitempty"`
	Cached   bool                `json:"cached"`
}

// QueryRequest is the body of POST /api/v1/query. Either Phrase or Query must
// be set; Phrase is translated first, Query is executed as-is. Start and End
// (RFC 3339) select a range query, otherwise the query runs at the current
// instant.
type QueryRequest struct {
	Phrase string `json:"phrase,omitempty"`
	Query  string `json:"query,omitempty"`
	Start  string `json:"start,omitempty"`
	End    string `json:"end,omitempty"`
	Step   string `json:"step,omitempty"`
}

// QueryResponse carries the executed query and its result. Translation fields
// are only present when the request came in as a phrase.
type QueryResponse struct {
	Query    string              `json:"query"`
	RuleID   string              `json:"rule_id,omitempty"`
	Trace    []engine.TraceEntry `json:"trace,omitempty"`
	Warnings []string            `json:"warnings,omitempty"`
	Result   *promapi.Result     `json:"result"`
}

func (s *Server) handleTranslate(c *gin.Context) {
	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		codedErr := errors.New(errors.ErrCodeInvalidInput, "Invalid request body").WithDetails(err.Error())
		c.JSON(http.StatusBadRequest, formatErrorResponse(codedErr))
		return
	}
	if req.Phrase == "" {
		codedErr := errors.New(errors.ErrCodeInvalidInput, "Missing required field").WithDetails("phrase must not be empty")
		c.JSON(http.StatusBadRequest, formatErrorResponse(codedErr))
		return
	}

	ctx := c.Request.Context()

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, req.Phrase); err != nil {
			s.logger.Warn(ctx, "Cache lookup failed", map[string]interface{}{"error": err.Error()})
		} else if cached != nil {
			c.JSON(http.StatusOK, TranslateResponse{
				Phrase:   req.Phrase,
				Query:    cached.Query,
				RuleID:   cached.RuleID,
				Trace:    cached.Trace,
				Warnings: cached.Warnings,
				Cached:   true,
			})
			return
		}
	}

	started := time.Now()
	translation, err := s.engine.Translate(req.Phrase)
	if err != nil {
		outcome := observability.OutcomeError
		if errors.HasCode(err, errors.ErrCodeNoMatch) {
			outcome = observability.OutcomeNoMatch
		}
		observability.ObserveTranslation(time.Since(started), outcome, "")
		c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
		return
	}
	observability.ObserveTranslation(time.Since(started), observability.OutcomeSuccess, translation.RuleID)

	if s.cache != nil {
		if err := s.cache.Put(ctx, req.Phrase, translation); err != nil {
			s.logger.Warn(ctx, "Cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if s.history != nil {
		if err := s.history.Record(ctx, req.Phrase, translation); err != nil {
			s.logger.Warn(ctx, "History write failed", map[string]interface{}{"error": err.Error()})
		}
	}

	c.JSON(http.StatusOK, TranslateResponse{
		Phrase:   req.Phrase,
		Query:    translation.Query,
		RuleID:   translation.RuleID,
		Trace:    translation.Trace,
		Warnings: translation.Warnings,
		Cached:   false,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		codedErr := errors.New(errors.ErrCodeInvalidInput, "Invalid request body").WithDetails(err.Error())
		c.JSON(http.StatusBadRequest, formatErrorResponse(codedErr))
		return
	}
	if req.Phrase == "" && req.Query == "" {
		codedErr := errors.New(errors.ErrCodeInvalidInput, "Missing required field").
			WithDetails("one of phrase or query must be set")
		c.JSON(http.StatusBadRequest, formatErrorResponse(codedErr))
		return
	}

	ctx := c.Request.Context()
	resp := QueryResponse{Query: req.Query}

	if req.Query == "" {
		started := time.Now()
		translation, err := s.engine.Translate(req.Phrase)
		if err != nil {
			outcome := observability.OutcomeError
			if errors.HasCode(err, errors.ErrCodeNoMatch) {
				outcome = observability.OutcomeNoMatch
			}
			observability.ObserveTranslation(time.Since(started), outcome, "")
			c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
			return
		}
		observability.ObserveTranslation(time.Since(started), observability.OutcomeSuccess, translation.RuleID)
		resp.Query = translation.Query
		resp.RuleID = translation.RuleID
		resp.Trace = translation.Trace
		resp.Warnings = translation.Warnings
	}

	if req.Start != "" || req.End != "" {
		start, end, step, err := parseRangeParams(req.Start, req.End, req.Step)
		if err != nil {
			c.JSON(http.StatusBadRequest, formatErrorResponse(err))
			return
		}
		result, err := s.backend.QueryRange(ctx, resp.Query, start, end, step)
		if err != nil {
			c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
			return
		}
		resp.Result = result
	} else {
		result, err := s.backend.Query(ctx, resp.Query, time.Now())
		if err != nil {
			c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
			return
		}
		resp.Result = result
	}

	c.JSON(http.StatusOK, resp)
}

// parseRangeParams validates the start/end/step triple of a range query.
// Step defaults to one minute.
func parseRangeParams(startRaw, endRaw, stepRaw string) (time.Time, time.Time, time.Duration, error) {
	var zero time.Time
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return zero, zero, 0, errors.New(errors.ErrCodeInvalidInput, "Invalid start time").
			WithDetails("start must be RFC 3339, e.g. 2026-08-26T10:00:00Z")
	}
	end, err := time.Parse(time.RFC3339, endRaw)
	if err != nil {
		return zero, zero, 0, errors.New(errors.ErrCodeInvalidInput, "Invalid end time").
			WithDetails("end must be RFC 3339, e.g. 2026-08-26T11:00:00Z")
	}
	if !end.After(start) {
		return zero, zero, 0, errors.New(errors.ErrCodeInvalidInput, "Invalid time range").
			WithDetails("end must be after start")
	}
	step := time.Minute
	if stepRaw != "" {
		step, err = time.ParseDuration(stepRaw)
		if err != nil || step <= 0 {
			return zero, zero, 0, errors.New(errors.ErrCodeInvalidInput, "Invalid step").
				WithDetails("step must be a positive duration, e.g. 30s or 5m")
		}
	}
	return start, end, step, nil
}

func (s *Server) handleSuggestMetrics(c *gin.Context) {
	names, err := s.backend.MetricNames(c.Request.Context())
	if err != nil {
		c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
		return
	}
	if prefix := c.Query("prefix"); prefix != "" {
		filtered := names[:0]
		for _, name := range names {
			if strings.HasPrefix(name, prefix) {
				filtered = append(filtered, name)
			}
		}
		names = filtered
	}
	c.JSON(http.StatusOK, gin.H{"metrics": names})
}

func (s *Server) handleSuggestLabels(c *gin.Context) {
	names, err := s.backend.LabelNames(c.Request.Context())
	if err != nil {
		c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"labels": names})
}

func (s *Server) handleSuggestLabelValues(c *gin.Context) {
	label := c.Query("label")
	if label == "" {
		codedErr := errors.New(errors.ErrCodeInvalidInput, "Missing required parameter").
			WithDetails("label query parameter must be set")
		c.JSON(http.StatusBadRequest, formatErrorResponse(codedErr))
		return
	}

	var matchers []string
	if metric := c.Query("metric"); metric != "" {
		matchers = append(matchers, metric)
	}
	values, err := s.backend.LabelValues(c.Request.Context(), label, matchers...)
	if err != nil {
		c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"label": label, "values": values})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"code":    "HISTORY_DISABLED",
				"message": "Translation history is not enabled on this server",
			},
		})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			codedErr := errors.New(errors.ErrCodeInvalidInput, "Invalid limit").
				WithDetails("limit must be an integer")
			c.JSON(http.StatusBadRequest, formatErrorResponse(codedErr))
			return
		}
		limit = parsed
	}

	entries, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, formatErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
