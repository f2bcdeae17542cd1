package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/credential-gate/internal/infra/security"
	"github.com/arklim/credential-gate/internal/usecase"
)

const (
	rateLimitProblemType  = "https://credential-gate.example.com/errors/rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// RespondWithMappedError resolves the provided error against known cases or
// falls back to a generic response. Throttling and password policy errors are
// answered before the cases are consulted.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	var rateErr *usecase.RateLimitExceededError
	if errors.As(err, &rateErr) {
		respondRateLimitExceeded(c, rateErr)
		return
	}

	if errors.Is(err, usecase.ErrPasswordPolicyViolation) {
		message := "password does not meet requirements"
		var policyErr *security.PasswordValidationError
		if errors.As(err, &policyErr) {
			message = policyErr.Message
		}
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, message))
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	if errors.Is(err, usecase.ErrStoreUnavailable) {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "service temporarily unavailable"))
		return
	}

	_ = c.Error(err)
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

func respondRateLimitExceeded(c *gin.Context, rateErr *usecase.RateLimitExceededError) {
	retryAfter := int(rateErr.RetryAfter / time.Second)
	if rateErr.RetryAfter%time.Second != 0 {
		retryAfter++
	}
	if retryAfter < 0 {
		retryAfter = 0
	}

	detail := "Too many requests. Try again later."
	if retryAfter > 0 {
		detail = fmt.Sprintf("Too many requests. Try again in %d seconds.", retryAfter)
		c.Header("Retry-After", fmt.Sprint(retryAfter))
	}

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	c.JSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      rateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     detail,
		Instance:   instance,
		RetryAfter: retryAfter,
		TraceID:    traceIDStr,
	})
}
