package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"library-service/library"
)

type createUserRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=4"`
	Role     string `json:"role" binding:"omitempty,role"`
}

type roleRequest struct {
	Role string `json:"role" binding:"required,role"`
}

type statusRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

type passwordResetRequest struct {
	Password string `json:"password" binding:"required,min=4"`
}

type auditResponse struct {
	Logs    []*library.AuditLog `json:"logs"`
	Total   int                 `json:"total"`
	Page    int                 `json:"page"`
	PerPage int                 `json:"per_page"`
}

// GET /admin/users
func (s *Server) ListUsers(c *gin.Context) {
	users, err := s.mgr.ListUsers(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// CreateUser adds an account with any assignable role, member by default.
// POST /admin/users
func (s *Server) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err)
		return
	}

	role := library.RoleMember
	if req.Role != "" {
		r, err := library.ParseRole(req.Role)
		if err != nil {
			s.respondError(c, err)
			return
		}
		role = r
	}

	user, err := s.mgr.CreateUser(c.Request.Context(), req.Name, req.Email, req.Password, role)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.audit(c, getPrincipal(c).UserID, library.ActionUserCreate, library.EntityUser, user.ID, map[string]string{
		"email": user.Email,
		"role":  string(user.Role),
	})
	c.JSON(http.StatusCreated, userResponse{Message: "User created", User: user})
}

// PUT /admin/users/:id/role
func (s *Server) SetUserRole(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err)
		return
	}
	role, err := library.ParseRole(req.Role)
	if err != nil {
		s.respondError(c, err)
		return
	}

	p := getPrincipal(c)
	user, err := s.mgr.SetUserRole(c.Request.Context(), p, id, role)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.audit(c, p.UserID, library.ActionUserRole, library.EntityUser, id, map[string]string{"role": string(role)})
	c.JSON(http.StatusOK, userResponse{Message: "Role updated", User: user})
}

// PUT /admin/users/:id/status
func (s *Server) SetUserStatus(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err)
		return
	}

	p := getPrincipal(c)
	user, selfRevoked, err := s.mgr.SetUserActive(c.Request.Context(), p, id, *req.IsActive)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.statusChanged(c, p, user, selfRevoked)
}

// POST /admin/users/:id/toggle
func (s *Server) ToggleUser(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}

	p := getPrincipal(c)
	user, selfRevoked, err := s.mgr.ToggleUserActive(c.Request.Context(), p, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.statusChanged(c, p, user, selfRevoked)
}

// statusChanged audits an activation change. An admin who deactivated
// themselves has lost their session, so their cookie goes too.
func (s *Server) statusChanged(c *gin.Context, p *library.Principal, user *library.User, selfRevoked bool) {
	action := library.ActionUserUnblock
	if !user.IsActive {
		action = library.ActionUserBlock
	}
	s.audit(c, p.UserID, action, library.EntityUser, user.ID, nil)

	if selfRevoked {
		s.clearSessionCookie(c)
	}
	c.JSON(http.StatusOK, userResponse{Message: "Status updated", User: user})
}

// PUT /admin/users/:id/password
func (s *Server) ResetUserPassword(c *gin.Context) {
	id, ok := s.idParam(c)
	if !ok {
		return
	}
	var req passwordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err)
		return
	}

	if err := s.mgr.ResetPassword(c.Request.Context(), id, req.Password); err != nil {
		s.respondError(c, err)
		return
	}

	s.audit(c, getPrincipal(c).UserID, library.ActionPasswordReset, library.EntityUser, id, nil)
	c.JSON(http.StatusOK, messageResponse{Message: "Password reset"})
}

// GET /admin/history
func (s *Server) AllHistory(c *gin.Context) {
	history, err := s.mgr.AllHistory(c.Request.Context(), getPrincipal(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

// GET /admin/dashboard
func (s *Server) Dashboard(c *gin.Context) {
	dashboard, err := s.mgr.Dashboard(c.Request.Context(), getPrincipal(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

// AuditLog pages through the audit log with ?page= and ?per_page=.
// GET /admin/audit
func (s *Server) AuditLog(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	page = min(max(page, 1), library.MaxAuditPage)
	if perPage < 1 || perPage > library.MaxAuditPerPage {
		perPage = library.DefaultAuditPerPage
	}

	logs, total, err := s.mgr.ListAudit(c.Request.Context(), page, perPage)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, auditResponse{Logs: logs, Total: total, Page: page, PerPage: perPage})
}

// Reconcile repairs availability flags that drifted from the ledger.
// POST /admin/availability/reconcile
func (s *Server) Reconcile(c *gin.Context) {
	repaired, err := s.mgr.ReconcileAvailability(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}

	if len(repaired) > 0 {
		s.audit(c, getPrincipal(c).UserID, library.ActionReconcile, library.EntityBook, 0, map[string][]int64{"book_ids": repaired})
	}
	c.JSON(http.StatusOK, gin.H{"repaired": repaired})
}
