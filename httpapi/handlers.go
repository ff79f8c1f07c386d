package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/agencyauth"
	"github.com/MrEthical07/agencyauth/middleware"
	"github.com/MrEthical07/agencyauth/password"
)

const dateLayout = "2006-01-02"

type registerRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	BotToken        string `json:"botToken"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Gender          string `json:"gender"`
	NRIC            string `json:"nric"`
	DateOfBirth     string `json:"dateOfBirth"`
	ResumePath      string `json:"resumePath"`
	WhoAmI          string `json:"whoAmI"`
}

type strengthResponse struct {
	Score int    `json:"score"`
	Label string `json:"label"`
}

func newStrength(s password.Strength) strengthResponse {
	return strengthResponse{Score: s.Score, Label: s.Label()}
}

type registerResponse struct {
	AccountID    string           `json:"accountId"`
	Email        string           `json:"email"`
	CodeSent     bool             `json:"codeSent"`
	FallbackCode string           `json:"fallbackCode,omitempty"`
	Strength     strengthResponse `json:"strength"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid registration payload")
		return
	}
	var dob time.Time
	if req.DateOfBirth != "" {
		parsed, err := time.Parse(dateLayout, req.DateOfBirth)
		if err != nil {
			badRequest(c, "invalid date of birth")
			return
		}
		dob = parsed
	}

	res, err := s.engine.Register(c.Request.Context(), agencyauth.RegisterRequest{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		BotToken:        req.BotToken,
		Profile: agencyauth.ProfileInput{
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			Gender:      req.Gender,
			NRIC:        req.NRIC,
			DateOfBirth: dob,
			ResumePath:  req.ResumePath,
			WhoAmI:      req.WhoAmI,
		},
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, registerResponse{
		AccountID:    res.AccountID,
		Email:        res.Email,
		CodeSent:     res.CodeSent,
		FallbackCode: res.FallbackCode,
		Strength:     newStrength(res.Strength),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	BotToken string `json:"botToken"`
}

type loginResponse struct {
	Pending2FA      bool   `json:"pending2fa"`
	Email           string `json:"email"`
	CodeSent        bool   `json:"codeSent"`
	FallbackCode    string `json:"fallbackCode,omitempty"`
	PasswordExpired bool   `json:"passwordExpired"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid login payload")
		return
	}
	res, err := s.engine.Login(c.Request.Context(), agencyauth.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		BotToken: req.BotToken,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, loginResponse{
		Pending2FA:      res.Pending2FA,
		Email:           res.Email,
		CodeSent:        res.CodeSent,
		FallbackCode:    res.FallbackCode,
		PasswordExpired: res.PasswordExpired,
	})
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
	Kind  string `json:"kind"`
}

type verifyCodeResponse struct {
	Kind       string     `json:"kind"`
	Verified   bool       `json:"verified"`
	ResetGrant string     `json:"resetGrant,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

func parseKind(raw string) (agencyauth.CodeKind, bool) {
	switch kind := agencyauth.CodeKind(strings.TrimSpace(raw)); kind {
	case agencyauth.CodeRegistration, agencyauth.CodeLogin2FA, agencyauth.CodePasswordReset:
		return kind, true
	}
	return "", false
}

func (s *Server) verifyCode(c *gin.Context) {
	var req verifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid verification payload")
		return
	}
	kind, ok := parseKind(req.Kind)
	if !ok {
		badRequest(c, "unknown code kind")
		return
	}

	res, err := s.engine.VerifyCode(c.Request.Context(), req.Email, req.Code, kind)
	if err != nil {
		s.fail(c, err)
		return
	}

	out := verifyCodeResponse{Kind: string(res.Kind), Verified: true}
	switch {
	case res.Session != nil:
		s.setSessionCookie(c, res.Session.Token, res.Session.ExpiresAt)
		out.ExpiresAt = &res.Session.ExpiresAt
	case res.ResetGrant != "":
		out.ResetGrant = res.ResetGrant
		out.ExpiresAt = &res.ExpiresAt
	}
	c.JSON(http.StatusOK, out)
}

type resendCodeRequest struct {
	Email string `json:"email"`
	Kind  string `json:"kind"`
}

// issueResponse never says whether the email is on file.
type issueResponse struct {
	Message      string `json:"message"`
	FallbackCode string `json:"fallbackCode,omitempty"`
}

func (s *Server) resendCode(c *gin.Context) {
	var req resendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid resend payload")
		return
	}
	kind, ok := parseKind(req.Kind)
	if !ok {
		badRequest(c, "unknown code kind")
		return
	}
	res, err := s.engine.ResendCode(c.Request.Context(), req.Email, kind)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, issueResponse{
		Message:      "if the account exists, a new code has been sent",
		FallbackCode: res.FallbackCode,
	})
}

type forgotPasswordRequest struct {
	Email    string `json:"email"`
	BotToken string `json:"botToken"`
}

func (s *Server) forgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	res, err := s.engine.RequestPasswordReset(c.Request.Context(), req.Email, req.BotToken)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, issueResponse{
		Message:      "if the account exists, a reset code has been sent",
		FallbackCode: res.FallbackCode,
	})
}

type resetPasswordRequest struct {
	Email           string `json:"email"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
	ResetGrant      string `json:"resetGrant"`
}

func (s *Server) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid reset payload")
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		badRequest(c, "passwords do not match")
		return
	}
	if err := s.engine.ResetPassword(c.Request.Context(), req.Email, req.NewPassword, req.ResetGrant); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password reset, please sign in"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type changePasswordResponse struct {
	PasswordExpires time.Time        `json:"passwordExpires"`
	Strength        strengthResponse `json:"strength"`
}

func (s *Server) changePassword(c *gin.Context) {
	id, _ := middleware.IdentityFromContext(c.Request.Context())

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid change payload")
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		badRequest(c, "passwords do not match")
		return
	}

	res, err := s.engine.ChangePassword(c.Request.Context(), id.AccountID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		s.fail(c, err)
		return
	}
	if res.SessionToken != "" {
		s.setSessionCookie(c, res.SessionToken, res.SessionExpiresAt)
	}
	c.JSON(http.StatusOK, changePasswordResponse{
		PasswordExpires: res.PasswordExpires,
		Strength:        newStrength(res.Strength),
	})
}

func (s *Server) logout(c *gin.Context) {
	id, _ := middleware.IdentityFromContext(c.Request.Context())
	if err := s.engine.Logout(c.Request.Context(), id.SessionID); err != nil {
		s.fail(c, err)
		return
	}
	middleware.ClearSessionCookie(c.Writer, s.opts.CookieName, s.opts.SecureCookies)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type profileResponse struct {
	AccountID       string    `json:"accountId"`
	Email           string    `json:"email"`
	EmailVerified   bool      `json:"emailVerified"`
	PasswordExpires time.Time `json:"passwordExpires"`
	FirstName       string    `json:"firstName"`
	LastName        string    `json:"lastName"`
	Gender          string    `json:"gender"`
	NRIC            string    `json:"nric"`
	DateOfBirth     string    `json:"dateOfBirth,omitempty"`
	ResumePath      string    `json:"resumePath,omitempty"`
	WhoAmI          string    `json:"whoAmI,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

func (s *Server) me(c *gin.Context) {
	id, _ := middleware.IdentityFromContext(c.Request.Context())
	p, err := s.engine.AccountProfile(c.Request.Context(), id.AccountID)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := profileResponse{
		AccountID:       p.AccountID,
		Email:           p.Email,
		EmailVerified:   p.EmailVerified,
		PasswordExpires: p.PasswordExpires,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		Gender:          p.Gender,
		NRIC:            p.NRIC,
		ResumePath:      p.ResumePath,
		WhoAmI:          p.WhoAmI,
		CreatedAt:       p.CreatedAt,
	}
	if !p.DateOfBirth.IsZero() {
		out.DateOfBirth = p.DateOfBirth.Format(dateLayout)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) setSessionCookie(c *gin.Context, token string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(s.now()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	middleware.SetSessionCookie(c.Writer, s.opts.CookieName, token, maxAge, s.opts.SecureCookies)
}
