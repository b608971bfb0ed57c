package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/seomaster/report_server/config"
	"github.com/seomaster/report_server/internal/api/middleware"
	"github.com/seomaster/report_server/internal/model"
	"github.com/seomaster/report_server/internal/model/dto"
	"github.com/seomaster/report_server/internal/pkg/response"
	"github.com/seomaster/report_server/internal/repository"
	"github.com/seomaster/report_server/internal/service"
	"github.com/seomaster/report_server/internal/testutil"
)

const testJWTSecret = "test-secret-key"

type captureMailer struct {
	codes map[string]string
}

func (m *captureMailer) SendVerificationOTP(to, firstName, code string) error {
	m.codes[model.OTPTypeEmailVerification+":"+to] = code
	return nil
}

func (m *captureMailer) SendPasswordResetOTP(to, firstName, code string) error {
	m.codes[model.OTPTypePasswordReset+":"+to] = code
	return nil
}

func setupAuthRouter(t *testing.T) (*gin.Engine, *captureMailer, *gorm.DB) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	mailer := &captureMailer{codes: map[string]string{}}
	authService := service.NewAuthService(
		repository.NewUserRepository(db),
		repository.NewOTPRepository(db),
		mailer,
		&config.JWTConfig{Secret: testJWTSecret, ExpireHours: 24, VerifyExpireMinute: 60},
	)
	h := NewAuthHandler(authService, CookieOptions{MaxAge: 3600})

	router := gin.New()
	g := router.Group("/auth")
	g.POST("/register", h.Register)
	g.POST("/send-otp", h.SendOTP)
	g.POST("/verify-otp", h.VerifyOTP)
	g.POST("/login", h.Login)
	g.POST("/logout", h.Logout)
	g.POST("/forgot-password", h.ForgotPassword)
	g.POST("/verify-reset-otp", h.VerifyResetOTP)
	g.POST("/reset-password", h.ResetPassword)
	g.GET("/me", middleware.Auth(testJWTSecret), h.Me)

	return router, mailer, db
}

func registerBody(email string) dto.RegisterRequest {
	return dto.RegisterRequest{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     email,
		Password:  "password123",
	}
}

func TestAuthHandler_Register(t *testing.T) {
	router, mailer, _ := setupAuthRouter(t)

	w := performRequest(router, "POST", "/auth/register", registerBody("ada@example.com"))
	require.Equal(t, http.StatusCreated, w.Code)

	var resp dto.RegisterResponse
	decodeData(t, w, &resp)
	assert.NotEmpty(t, resp.VerificationToken)
	assert.Equal(t, "ada@example.com", resp.User.Email)
	assert.False(t, resp.User.IsVerified)
	assert.Len(t, mailer.codes[model.OTPTypeEmailVerification+":ada@example.com"], 4)

	// 重复注册
	w = performRequest(router, "POST", "/auth/register", registerBody("ada@example.com"))
	result := parseResponse(t, w)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.CodeDuplicateAction, result.Code)
}

func TestAuthHandler_Register_Validation(t *testing.T) {
	router, _, _ := setupAuthRouter(t)

	body := registerBody("not-an-email")
	w := performRequest(router, "POST", "/auth/register", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = registerBody("ada@example.com")
	body.Password = "123"
	w = performRequest(router, "POST", "/auth/register", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandler_LoginBeforeVerification(t *testing.T) {
	router, _, _ := setupAuthRouter(t)

	performRequest(router, "POST", "/auth/register", registerBody("ada@example.com"))

	w := performRequest(router, "POST", "/auth/login", dto.LoginRequest{Email: "ada@example.com", Password: "password123"})
	require.Equal(t, http.StatusForbidden, w.Code)

	var data dto.NeedsVerification
	decodeData(t, w, &data)
	assert.True(t, data.NeedsVerification)
	assert.Equal(t, "ada@example.com", data.Email)
}

func TestAuthHandler_VerifyThenLogin(t *testing.T) {
	router, mailer, _ := setupAuthRouter(t)

	w := performRequest(router, "POST", "/auth/register", registerBody("ada@example.com"))
	var reg dto.RegisterResponse
	decodeData(t, w, &reg)

	code := mailer.codes[model.OTPTypeEmailVerification+":ada@example.com"]

	// 错误验证码
	wrong := "0000"
	if code == wrong {
		wrong = "1111"
	}
	w = performRequest(router, "POST", "/auth/verify-otp", dto.VerifyOTPRequest{
		Email: "ada@example.com", OTP: wrong, VerificationToken: reg.VerificationToken,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performRequest(router, "POST", "/auth/verify-otp", dto.VerifyOTPRequest{
		Email: "ada@example.com", OTP: code, VerificationToken: reg.VerificationToken,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, "POST", "/auth/login", dto.LoginRequest{Email: "ada@example.com", Password: "password123"})
	require.Equal(t, http.StatusOK, w.Code)

	var login dto.LoginResponse
	decodeData(t, w, &login)
	assert.NotEmpty(t, login.Token)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.TokenCookie, cookies[0].Name)
	assert.Equal(t, login.Token, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	// cookie 可用于认证
	req := performRequestWithCookie(router, "GET", "/auth/me", cookies[0])
	require.Equal(t, http.StatusOK, req.Code)
	var me dto.UserInfo
	decodeData(t, req, &me)
	assert.Equal(t, "ada@example.com", me.Email)
	assert.True(t, me.IsVerified)
}

func TestAuthHandler_VerifyOTP_BadSession(t *testing.T) {
	router, mailer, _ := setupAuthRouter(t)

	performRequest(router, "POST", "/auth/register", registerBody("ada@example.com"))
	code := mailer.codes[model.OTPTypeEmailVerification+":ada@example.com"]

	w := performRequest(router, "POST", "/auth/verify-otp", dto.VerifyOTPRequest{
		Email: "ada@example.com", OTP: code, VerificationToken: "garbage",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandler_LoginInvalidCredentials(t *testing.T) {
	router, _, db := setupAuthRouter(t)
	user := testutil.TestUser(t, db)

	w := performRequest(router, "POST", "/auth/login", dto.LoginRequest{Email: user.Email, Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = performRequest(router, "POST", "/auth/login", dto.LoginRequest{Email: "nobody@example.com", Password: "password123"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = performRequest(router, "POST", "/auth/login", dto.LoginRequest{Email: user.Email, Password: testutil.TestPassword})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthHandler_SendOTP(t *testing.T) {
	router, mailer, db := setupAuthRouter(t)
	unverified := testutil.TestUser(t, db, testutil.WithEmail("new@example.com"), testutil.WithUnverified())
	verified := testutil.TestUser(t, db, testutil.WithEmail("old@example.com"))

	w := performRequest(router, "POST", "/auth/send-otp", dto.EmailRequest{Email: unverified.Email})
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.VerificationTokenResponse
	decodeData(t, w, &resp)
	assert.NotEmpty(t, resp.VerificationToken)
	assert.NotEmpty(t, mailer.codes[model.OTPTypeEmailVerification+":new@example.com"])

	w = performRequest(router, "POST", "/auth/send-otp", dto.EmailRequest{Email: verified.Email})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performRequest(router, "POST", "/auth/send-otp", dto.EmailRequest{Email: "ghost@example.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthHandler_PasswordResetFlow(t *testing.T) {
	router, mailer, db := setupAuthRouter(t)
	user := testutil.TestUser(t, db, testutil.WithEmail("reset@example.com"))

	w := performRequest(router, "POST", "/auth/forgot-password", dto.EmailRequest{Email: user.Email})
	require.Equal(t, http.StatusOK, w.Code)
	var session dto.VerificationTokenResponse
	decodeData(t, w, &session)

	code := mailer.codes[model.OTPTypePasswordReset+":reset@example.com"]
	require.Len(t, code, 4)

	// 验证会话令牌不能直接重置密码
	w = performRequest(router, "POST", "/auth/reset-password", dto.ResetPasswordRequest{
		Email: user.Email, Password: "newpassword", ResetToken: session.VerificationToken,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = performRequest(router, "POST", "/auth/verify-reset-otp", dto.VerifyOTPRequest{
		Email: user.Email, OTP: code, VerificationToken: session.VerificationToken,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var reset dto.VerifyResetOTPResponse
	decodeData(t, w, &reset)

	// 验证码只能使用一次
	w = performRequest(router, "POST", "/auth/verify-reset-otp", dto.VerifyOTPRequest{
		Email: user.Email, OTP: code, VerificationToken: session.VerificationToken,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performRequest(router, "POST", "/auth/reset-password", dto.ResetPasswordRequest{
		Email: user.Email, Password: "newpassword", ResetToken: reset.ResetToken,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, "POST", "/auth/login", dto.LoginRequest{Email: user.Email, Password: "newpassword"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthHandler_ForgotPassword_Unverified(t *testing.T) {
	router, _, db := setupAuthRouter(t)
	user := testutil.TestUser(t, db, testutil.WithUnverified())

	w := performRequest(router, "POST", "/auth/forgot-password", dto.EmailRequest{Email: user.Email})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandler_MeRequiresSession(t *testing.T) {
	router, _, _ := setupAuthRouter(t)

	w := performRequest(router, "GET", "/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandler_Logout(t *testing.T) {
	router, _, _ := setupAuthRouter(t)

	w := performRequest(router, "POST", "/auth/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.TokenCookie, cookies[0].Name)
	assert.True(t, cookies[0].MaxAge < 0 || cookies[0].Expires.Before(time.Now()))
}
