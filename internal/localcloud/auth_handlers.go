package localcloud

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	maxLoginAttempts = 5
	lockoutWindow    = 15 * time.Minute
	resetCodeTTL     = 15 * time.Minute
)

// SignUpRequest represents a registration request
type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

// SignUpResponse reports the created account and the step that completes it
type SignUpResponse struct {
	UserID   string `json:"user_id"`
	NextStep string `json:"next_step"`
}

// ConfirmRequest represents a sign-up confirmation request
type ConfirmRequest struct {
	Email string `json:"email" binding:"required,email" validate:"required,email"`
	Code  string `json:"code" binding:"required" validate:"required,confirmcode"`
}

// EmailRequest carries just an account email (resend, forgot password)
type EmailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest redeems a refresh token for a new credential set
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// ResetRequest completes the forgot-password flow
type ResetRequest struct {
	Email       string `json:"email" binding:"required,email" validate:"required,email"`
	Code        string `json:"code" binding:"required" validate:"required,confirmcode"`
	NewPassword string `json:"new_password" binding:"required,min=8" validate:"required,min=8"`
}

// TokenResponse is the issued credential set
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// UserDetail represents user information returned in responses
type UserDetail struct {
	ID     string   `json:"id"`
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	Groups []string `json:"groups"`
}

// apiError writes the coded error payload the clients key off
func apiError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": message, "code": code})
}

func (s *Server) signUp(c *gin.Context) {
	var req SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var existing User
	err := s.db.Where("email = ?", req.Email).First(&existing).Error
	if err == nil {
		apiError(c, http.StatusConflict, "EMAIL_EXISTS", "An account with this email already exists")
		return
	}
	if err != gorm.ErrRecordNotFound {
		s.logger.Error().Err(err).Msg("Failed to check for existing user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	passwordHash, err := HashPassword(req.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	code, err := newVerificationCode()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate confirmation code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	user := &User{
		Email:            req.Email,
		PasswordHash:     passwordHash,
		Name:             req.Name,
		Status:           UserStatusUnconfirmed,
		ConfirmationCode: code,
	}

	if err := s.db.Create(user).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	// There is no mail delivery here; the code lands in the server log
	s.logger.Info().
		Str("user_id", user.ID).
		Str("email", user.Email).
		Str("code", code).
		Msg("User signed up, confirmation code issued")

	c.JSON(http.StatusCreated, SignUpResponse{
		UserID:   user.ID,
		NextStep: "CONFIRM_SIGN_UP",
	})
}

func (s *Server) confirmSignUp(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.Struct(&req); err != nil {
		apiError(c, http.StatusBadRequest, "CODE_MISMATCH", "Invalid confirmation code format")
		return
	}

	user, ok := s.findUserByEmail(c, req.Email)
	if !ok {
		return
	}

	if user.Confirmed() {
		c.JSON(http.StatusOK, gin.H{"status": user.Status})
		return
	}

	if user.ConfirmationCode == "" || req.Code != user.ConfirmationCode {
		apiError(c, http.StatusBadRequest, "CODE_MISMATCH", "Invalid confirmation code")
		return
	}

	updates := map[string]interface{}{
		"status":            UserStatusConfirmed,
		"confirmation_code": "",
	}
	if err := s.db.Model(user).Updates(updates).Error; err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to confirm user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("User confirmed")

	c.JSON(http.StatusOK, gin.H{"status": UserStatusConfirmed})
}

func (s *Server) resendCode(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, ok := s.findUserByEmail(c, req.Email)
	if !ok {
		return
	}

	if user.Confirmed() {
		apiError(c, http.StatusBadRequest, "ALREADY_CONFIRMED", "Account is already confirmed")
		return
	}

	code, err := newVerificationCode()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate confirmation code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := s.db.Model(user).Update("confirmation_code", code).Error; err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to store confirmation code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("email", user.Email).
		Str("code", code).
		Msg("Confirmation code resent")

	c.JSON(http.StatusOK, gin.H{"status": "SENT"})
}

func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, ok := s.findUserByEmail(c, req.Email)
	if !ok {
		return
	}

	if s.lockedOut(user) {
		apiError(c, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "Too many failed sign-in attempts")
		return
	}

	if err := VerifyPassword(req.Password, user.PasswordHash); err != nil {
		s.recordFailedLogin(user)
		apiError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}

	if !user.Confirmed() {
		apiError(c, http.StatusForbidden, "USER_NOT_CONFIRMED", "Account is not confirmed")
		return
	}

	if user.FailedLogins > 0 {
		if err := s.db.Model(user).Updates(map[string]interface{}{
			"failed_logins":  0,
			"last_failed_at": nil,
		}).Error; err != nil {
			s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to reset login counters")
		}
	}

	tokens, err := s.issueSession(user)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to issue session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sign in"})
		return
	}

	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("User logged in")

	c.JSON(http.StatusOK, tokens)
}

func (s *Server) refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var session RefreshSession
	err := s.db.Where("token_hash = ?", hashToken(req.RefreshToken)).First(&session).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			s.logger.Error().Err(err).Msg("Failed to look up refresh session")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		apiError(c, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "Refresh token is invalid or expired")
		return
	}

	if !session.Active(time.Now()) {
		apiError(c, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "Refresh token is invalid or expired")
		return
	}

	var user User
	if err := s.db.Where("id = ?", session.UserID).First(&user).Error; err != nil {
		s.logger.Error().Err(err).Str("user_id", session.UserID).Msg("Refresh session for unknown user")
		apiError(c, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "Refresh token is invalid or expired")
		return
	}

	// Rotation: the redeemed token dies with this request
	now := time.Now()
	if err := s.db.Model(&session).Update("revoked_at", &now).Error; err != nil {
		s.logger.Error().Err(err).Str("session_id", session.ID).Msg("Failed to revoke redeemed session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	tokens, err := s.issueSession(&user)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to rotate session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, tokens)
}

func (s *Server) logout(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Revoking an unknown token is a no-op, not an error
	var session RefreshSession
	err := s.db.Where("token_hash = ?", hashToken(req.RefreshToken)).First(&session).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			s.logger.Error().Err(err).Msg("Failed to look up refresh session")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"revoked": false})
		return
	}

	if session.RevokedAt == nil {
		now := time.Now()
		if err := s.db.Model(&session).Update("revoked_at", &now).Error; err != nil {
			s.logger.Error().Err(err).Str("session_id", session.ID).Msg("Failed to revoke session")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}

	s.logger.Info().Str("user_id", session.UserID).Msg("Session revoked")

	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

func (s *Server) forgotPassword(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, ok := s.findUserByEmail(c, req.Email)
	if !ok {
		return
	}

	code, err := newVerificationCode()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate reset code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	expires := time.Now().Add(resetCodeTTL)
	updates := map[string]interface{}{
		"reset_code":            code,
		"reset_code_expires_at": &expires,
	}
	if err := s.db.Model(user).Updates(updates).Error; err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to store reset code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("email", user.Email).
		Str("code", code).
		Msg("Password reset code issued")

	c.JSON(http.StatusOK, gin.H{"status": "SENT"})
}

func (s *Server) confirmForgotPassword(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.Struct(&req); err != nil {
		apiError(c, http.StatusBadRequest, "CODE_MISMATCH", "Invalid reset code format")
		return
	}

	user, ok := s.findUserByEmail(c, req.Email)
	if !ok {
		return
	}

	expired := user.ResetCodeExpiresAt == nil || time.Now().After(*user.ResetCodeExpiresAt)
	if user.ResetCode == "" || expired || req.Code != user.ResetCode {
		apiError(c, http.StatusBadRequest, "CODE_MISMATCH", "Invalid or expired reset code")
		return
	}

	passwordHash, err := HashPassword(req.NewPassword)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	updates := map[string]interface{}{
		"password_hash":         passwordHash,
		"reset_code":            "",
		"reset_code_expires_at": nil,
		"failed_logins":         0,
		"last_failed_at":        nil,
	}
	if err := s.db.Model(user).Updates(updates).Error; err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to update password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	// A password change invalidates every outstanding session
	now := time.Now()
	if err := s.db.Model(&RefreshSession{}).
		Where("user_id = ? AND revoked_at IS NULL", user.ID).
		Update("revoked_at", &now).Error; err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to revoke sessions after password reset")
	}

	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("Password reset completed")

	c.JSON(http.StatusOK, gin.H{"status": "CONFIRMED"})
}

func (s *Server) getCurrentUser(c *gin.Context) {
	user, exists := currentUser(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	c.JSON(http.StatusOK, UserDetail{
		ID:     user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Groups: user.GroupList(),
	})
}

// findUserByEmail loads an account or writes the USER_NOT_FOUND response
func (s *Server) findUserByEmail(c *gin.Context, email string) (*User, bool) {
	var user User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			apiError(c, http.StatusNotFound, "USER_NOT_FOUND", "No account found with this email")
			return nil, false
		}
		s.logger.Error().Err(err).Msg("Failed to find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return nil, false
	}
	return &user, true
}

// lockedOut reports whether failed attempts put the account in cooldown
func (s *Server) lockedOut(user *User) bool {
	if user.FailedLogins < maxLoginAttempts || user.LastFailedAt == nil {
		return false
	}
	return time.Since(*user.LastFailedAt) < lockoutWindow
}

func (s *Server) recordFailedLogin(user *User) {
	now := time.Now()
	attempts := user.FailedLogins + 1
	if user.LastFailedAt != nil && time.Since(*user.LastFailedAt) >= lockoutWindow {
		attempts = 1
	}

	updates := map[string]interface{}{
		"failed_logins":  attempts,
		"last_failed_at": &now,
	}
	if err := s.db.Model(user).Updates(updates).Error; err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to record failed login")
	}
}

// issueSession mints an access token and a fresh refresh session
func (s *Server) issueSession(user *User) (*TokenResponse, error) {
	accessToken, err := issueAccessToken(s.secret, user, s.accessTTL)
	if err != nil {
		return nil, err
	}

	refreshToken, err := newRefreshToken()
	if err != nil {
		return nil, err
	}

	session := &RefreshSession{
		UserID:    user.ID,
		TokenHash: hashToken(refreshToken),
		ExpiresAt: time.Now().Add(s.refreshTTL),
	}
	if err := s.db.Create(session).Error; err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}
