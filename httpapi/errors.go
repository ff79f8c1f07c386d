package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MrEthical07/agencyauth"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error             string `json:"error"`
	RemainingAttempts int    `json:"remainingAttempts,omitempty"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

type errorMapping struct {
	target  error
	status  int
	message string
}

// Order matters: the first matching sentinel wins.
var errorMappings = []errorMapping{
	{agencyauth.ErrValidationFailed, http.StatusBadRequest, "invalid input"},
	{agencyauth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid login attempt"},
	{agencyauth.ErrAccountLocked, http.StatusLocked, "account locked, try again later"},
	{agencyauth.ErrSessionConflict, http.StatusConflict, "account is already signed in elsewhere"},
	{agencyauth.ErrAccountUnverified, http.StatusForbidden, "email address not verified"},
	{agencyauth.ErrCodeInvalid, http.StatusBadRequest, "invalid verification code"},
	{agencyauth.ErrCodeExpired, http.StatusGone, "verification code expired"},
	{agencyauth.ErrPasswordReuse, http.StatusBadRequest, "password was used recently"},
	{agencyauth.ErrPasswordTooRecent, http.StatusTooManyRequests, "password was changed too recently"},
	{agencyauth.ErrAccountExists, http.StatusConflict, "email already registered"},
	{agencyauth.ErrResetGrantInvalid, http.StatusBadRequest, "reset request invalid or expired"},
	{agencyauth.ErrBotRejected, http.StatusForbidden, "verification failed, please retry"},
	{agencyauth.ErrRateLimited, http.StatusTooManyRequests, "too many requests"},
	{agencyauth.ErrSessionInvalid, http.StatusUnauthorized, "session expired"},
	{agencyauth.ErrConcurrentUpdate, http.StatusConflict, "please retry"},
	{agencyauth.ErrNotFound, http.StatusNotFound, "not found"},
	{agencyauth.ErrUnavailable, http.StatusServiceUnavailable, "service unavailable"},
	{agencyauth.ErrEngineNotReady, http.StatusServiceUnavailable, "service unavailable"},
}

func mapError(err error) (int, ErrorResponse) {
	status, body := http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			status, body = m.status, ErrorResponse{Error: m.message}
			break
		}
	}

	var loginErr *agencyauth.LoginError
	if errors.As(err, &loginErr) {
		body.RemainingAttempts = loginErr.RemainingAttempts
		body.RetryAfterSeconds = ceilSeconds(loginErr.LockoutRemaining.Seconds())
	}
	var ageErr *agencyauth.PasswordAgeError
	if errors.As(err, &ageErr) {
		body.RetryAfterSeconds = ceilSeconds(ageErr.Remaining.Seconds())
	}
	return status, body
}

func ceilSeconds(s float64) int {
	if s <= 0 {
		return 0
	}
	return int(math.Ceil(s))
}

func (s *Server) fail(c *gin.Context, err error) {
	status, body := mapError(err)
	if status >= http.StatusInternalServerError {
		s.opts.Logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	if body.RetryAfterSeconds > 0 {
		c.Header("Retry-After", strconv.Itoa(body.RetryAfterSeconds))
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}
