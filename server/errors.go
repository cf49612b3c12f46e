package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"library-service/library"
)

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func statusFor(kind library.Kind) int {
	switch kind {
	case library.KindValidation:
		return http.StatusBadRequest
	case library.KindUnauthorized:
		return http.StatusUnauthorized
	case library.KindForbidden:
		return http.StatusForbidden
	case library.KindNotFound:
		return http.StatusNotFound
	case library.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError aborts the request with the status of err's kind. Internal
// errors are logged and their text never reaches the client.
func (s *Server) respondError(c *gin.Context, err error) {
	kind := library.KindOf(err)
	status := statusFor(kind)
	if kind == library.KindInternal {
		s.logger.Error("request failed",
			"request_id", c.GetString(requestIDKey),
			"method", c.Request.Method,
			"route", c.FullPath(),
			"err", err,
		)
	}
	c.AbortWithStatusJSON(status, errorResponse{Code: status, Message: library.MessageOf(err)})
}

// bindError turns a gin binding failure into a Validation error.
func (s *Server) bindError(c *gin.Context, err error) {
	s.respondError(c, library.Validation("%s", describeBindError(err)))
}

func describeBindError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "malformed request body"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid email", fe.Field()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param()))
		case "role":
			msgs = append(msgs, fmt.Sprintf("%s must be one of admin, librarian, member", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(msgs, "; ")
}
