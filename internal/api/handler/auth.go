package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/seomaster/report_server/internal/api/middleware"
	"github.com/seomaster/report_server/internal/model/dto"
	"github.com/seomaster/report_server/internal/pkg/response"
	"github.com/seomaster/report_server/internal/service"
)

// CookieOptions 登录 cookie 设置
type CookieOptions struct {
	MaxAge int // 秒
	Secure bool
}

type AuthHandler struct {
	authService *service.AuthService
	cookie      CookieOptions
}

func NewAuthHandler(authService *service.AuthService, cookie CookieOptions) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		cookie:      cookie,
	}
}

// Register 用户注册
// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Created(c, "Registration successful, please check your email for the verification code", resp)
}

// SendOTP 重发邮箱验证码
// POST /api/auth/send-otp
func (h *AuthHandler) SendOTP(c *gin.Context) {
	var req dto.EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.SendOTP(c.Request.Context(), req.Email)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "Verification code sent", resp)
}

// VerifyOTP 验证邮箱
// POST /api/auth/verify-otp
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req dto.VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	user, err := h.authService.VerifyOTP(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "Email verified successfully", user)
}

// Login 用户登录，成功后同时写入 token cookie
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrEmailNotVerified) {
			response.ErrorWithData(c, response.CodePermissionDenied, err.Error(), &dto.NeedsVerification{
				NeedsVerification: true,
				Email:             req.Email,
			})
			return
		}
		h.fail(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookie, resp.Token, h.cookie.MaxAge, "/", "", h.cookie.Secure, true)
	response.SuccessWithMessage(c, "Login successful", resp)
}

// Logout 清除 token cookie
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookie, "", -1, "/", "", h.cookie.Secure, true)
	response.SuccessWithMessage(c, "Logged out", nil)
}

// ForgotPassword 发送密码重置验证码
// POST /api/auth/forgot-password
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req dto.EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.ForgotPassword(c.Request.Context(), req.Email)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "Password reset code sent", resp)
}

// VerifyResetOTP 校验重置验证码
// POST /api/auth/verify-reset-otp
func (h *AuthHandler) VerifyResetOTP(c *gin.Context) {
	var req dto.VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.VerifyResetOTP(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "Code verified", resp)
}

// ResetPassword 设置新密码
// POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req dto.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	user, err := h.authService.ResetPassword(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.SuccessWithMessage(c, "Password reset successfully", user)
}

// Me 当前用户
// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	user, err := h.authService.Me(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, user)
}

func (h *AuthHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrEmailExists):
		response.DuplicateError(c, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidVerifySession),
		errors.Is(err, service.ErrInvalidResetToken):
		response.AuthError(c, err.Error())
	case errors.Is(err, service.ErrEmailNotVerified):
		response.PermissionError(c, err.Error())
	case errors.Is(err, service.ErrUserNotFound):
		response.NotFoundError(c, err.Error())
	case errors.Is(err, service.ErrInvalidOTP),
		errors.Is(err, service.ErrAlreadyVerified),
		errors.Is(err, service.ErrVerifyBeforeReset):
		response.ParamError(c, err.Error())
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("auth request failed")
		response.ServerError(c, "")
	}
}
