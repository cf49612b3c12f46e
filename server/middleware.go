package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"library-service/library"
)

const (
	principalKey = "principal"
	requestIDKey = "request_id"
)

// requestLogger tags each request with an id and logs one line once it
// has been served.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		latency := time.Since(start)
		s.metrics.observeRequest(c.Request.Method, route, status, latency)

		s.logger.Info("request",
			"request_id", requestID,
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"latency", latency,
			"ip", c.ClientIP(),
		)
	}
}

// requireSession resolves the session cookie into a principal. A rejected
// token is cleared from the browser.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(s.cfg.Session.CookieName)

		principal, err := s.mgr.ValidateSession(c.Request.Context(), token)
		if err != nil {
			if token != "" && library.KindOf(err) == library.KindUnauthorized {
				s.clearSessionCookie(c)
			}
			s.respondError(c, err)
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// require must run after requireSession.
func (s *Server) require(op library.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := library.Authorize(getPrincipal(c), op); err != nil {
			s.respondError(c, err)
			return
		}
		c.Next()
	}
}

func getPrincipal(c *gin.Context) *library.Principal {
	if p, exists := c.Get(principalKey); exists {
		return p.(*library.Principal)
	}
	return nil
}

func (s *Server) setSessionCookie(c *gin.Context, session *library.Session) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cfg.Session.CookieName, session.ID, int(s.cfg.Session.TTL.Seconds()), "/", "", s.cfg.Session.Secure, true)
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cfg.Session.CookieName, "", -1, "/", "", s.cfg.Session.Secure, true)
}

// idParam parses the :id path segment.
func (s *Server) idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(c, library.Validation("invalid id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

// audit records an action; a failed write is logged and never fails the
// request. userID and entityID of zero are stored as NULL.
func (s *Server) audit(c *gin.Context, userID int64, action, entityType string, entityID int64, details any) {
	entry := library.AuditEntry{
		Action:     action,
		EntityType: entityType,
		Details:    details,
		IP:         c.ClientIP(),
	}
	if userID != 0 {
		entry.UserID = &userID
	}
	if entityID != 0 {
		entry.EntityID = &entityID
	}
	if err := s.mgr.Audit(c.Request.Context(), entry); err != nil {
		s.logger.Warn("audit write failed", "action", action, "err", err)
	}
}
