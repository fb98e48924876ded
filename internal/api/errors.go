package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/keycurve/internal/domain"
)

var kindStatus = map[domain.ErrorKind]int{
	domain.KindInvalidAmount:            http.StatusBadRequest,
	domain.KindInvalidInput:             http.StatusBadRequest,
	domain.KindNotFound:                 http.StatusNotFound,
	domain.KindForbidden:                http.StatusForbidden,
	domain.KindInsufficientSupply:       http.StatusUnprocessableEntity,
	domain.KindInsufficientBalance:      http.StatusUnprocessableEntity,
	domain.KindInsufficientReserve:      http.StatusUnprocessableEntity,
	domain.KindCurveNotTradable:         http.StatusConflict,
	domain.KindLaunchRequirementsNotMet: http.StatusConflict,
	domain.KindInvalidState:             http.StatusConflict,
	domain.KindConcurrentModification:   http.StatusConflict,
	domain.KindLaunchInProgress:         http.StatusConflict,
	domain.KindAlreadyClaimed:           http.StatusConflict,
	domain.KindTradeRejected:            http.StatusTooManyRequests,
	domain.KindLaunchExecutionFailed:    http.StatusBadGateway,
}

// StatusFor maps an error kind to an HTTP status; unknown kinds are 500.
func StatusFor(kind domain.ErrorKind) int {
	if s, ok := kindStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
	Details map[string]any   `json:"details,omitempty"`
}

// respondWithError writes {"error": {...}}. Domain errors carry their kind and
// details; anything else is logged and hidden behind a generic message.
func (s *Server) respondWithError(c *gin.Context, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		status := StatusFor(de.Kind)
		if status >= http.StatusInternalServerError || de.Err != nil {
			s.logger.Warn("Request failed",
				zap.String("path", c.FullPath()),
				zap.String("kind", string(de.Kind)),
				zap.Error(err))
		}
		c.AbortWithStatusJSON(status, gin.H{"error": errorBody{
			Kind:    de.Kind,
			Message: de.Message,
			Details: de.Details,
		}})
		return
	}

	s.logger.Error("Unexpected error",
		zap.String("path", c.FullPath()),
		zap.String("method", c.Request.Method),
		zap.Error(err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errorBody{
		Kind:    "Internal",
		Message: "internal server error",
	}})
}

func invalidInput(err error) error {
	return domain.WrapError(domain.KindInvalidInput, err.Error(), err, nil)
}
