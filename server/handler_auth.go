package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"library-service/library"
)

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=4"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type profileRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=4"`
}

type userResponse struct {
	Message string        `json:"message"`
	User    *library.User `json:"user"`
}

// Register is public self-registration; the new account is always a member.
// POST /register
func (s *Server) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err)
		return
	}

	user, err := s.mgr.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.audit(c, user.ID, library.ActionRegister, library.EntityUser, user.ID, nil)
	c.JSON(http.StatusCreated, userResponse{Message: "User registered", User: user})
}

// Login opens a session and hands its token out as an HttpOnly cookie.
// POST /login
func (s *Server) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err)
		return
	}

	session, user, err := s.mgr.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if library.KindOf(err) != library.KindInternal {
			s.audit(c, 0, library.ActionLoginFailed, library.EntityUser, 0, map[string]string{"email": req.Email})
		}
		s.respondError(c, err)
		return
	}

	s.setSessionCookie(c, session)
	s.audit(c, user.ID, library.ActionLogin, library.EntityUser, user.ID, nil)
	c.JSON(http.StatusOK, userResponse{Message: "Login successful", User: user})
}

// Logout always clears the cookie, whether or not the session was still valid.
// POST /logout
func (s *Server) Logout(c *gin.Context) {
	token, err := c.Cookie(s.cfg.Session.CookieName)
	if err == nil && token != "" {
		ctx := c.Request.Context()
		if p, err := s.mgr.ValidateSession(ctx, token); err == nil {
			s.audit(c, p.UserID, library.ActionLogout, library.EntityUser, p.UserID, nil)
		}
		if err := s.mgr.Logout(ctx, token); err != nil {
			s.logger.Warn("logout failed", "err", err)
		}
	}

	s.clearSessionCookie(c)
	c.JSON(http.StatusOK, messageResponse{Message: "Logged out"})
}

// Me returns the caller's own account.
// GET /me
func (s *Server) Me(c *gin.Context) {
	user, err := s.mgr.GetUser(c.Request.Context(), getPrincipal(c).UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// PUT /me
func (s *Server) UpdateMe(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err)
		return
	}

	p := getPrincipal(c)
	user, err := s.mgr.UpdateProfile(c.Request.Context(), p.UserID, req.Name, req.Email)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.audit(c, p.UserID, library.ActionProfileUpdate, library.EntityUser, p.UserID, map[string]string{
		"name":  user.Name,
		"email": user.Email,
	})
	c.JSON(http.StatusOK, userResponse{Message: "Profile updated", User: user})
}

// PUT /me/password
func (s *Server) ChangeMyPassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.bindError(c, err)
		return
	}

	p := getPrincipal(c)
	if err := s.mgr.ChangePassword(c.Request.Context(), p.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		s.respondError(c, err)
		return
	}

	s.audit(c, p.UserID, library.ActionPasswordChange, library.EntityUser, p.UserID, nil)
	c.JSON(http.StatusOK, messageResponse{Message: "Password updated"})
}
