package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/seomaster/report_server/config"
	"github.com/seomaster/report_server/internal/model"
	"github.com/seomaster/report_server/internal/model/dto"
	"github.com/seomaster/report_server/internal/pkg/jwt"
	"github.com/seomaster/report_server/internal/repository"
)

var (
	ErrEmailExists          = errors.New("email already exists")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrEmailNotVerified     = errors.New("please verify your email before logging in")
	ErrUserNotFound         = errors.New("user not found")
	ErrAlreadyVerified      = errors.New("email is already verified")
	ErrVerifyBeforeReset    = errors.New("please verify your email address before resetting your password")
	ErrInvalidOTP           = errors.New("invalid or expired OTP code")
	ErrInvalidVerifySession = errors.New("invalid or expired verification session")
	ErrInvalidResetToken    = errors.New("invalid or expired reset token")
)

// OTPTTL 验证码有效期
const OTPTTL = 10 * time.Minute

// Mailer 验证码邮件
type Mailer interface {
	SendVerificationOTP(to, firstName, code string) error
	SendPasswordResetOTP(to, firstName, code string) error
}

type AuthService struct {
	userRepo   *repository.UserRepository
	otpRepo    *repository.OTPRepository
	mailer     Mailer
	cfg        *config.JWTConfig
	bcryptCost int
	now        func() time.Time
}

func NewAuthService(
	userRepo *repository.UserRepository,
	otpRepo *repository.OTPRepository,
	mailer Mailer,
	cfg *config.JWTConfig,
) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		otpRepo:    otpRepo,
		mailer:     mailer,
		cfg:        cfg,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
}

func (s *AuthService) authTTL() time.Duration {
	return time.Duration(s.cfg.ExpireHours) * time.Hour
}

func (s *AuthService) verifyTTL() time.Duration {
	return time.Duration(s.cfg.VerifyExpireMinute) * time.Minute
}

// Register 创建未验证用户并发送邮箱验证码
func (s *AuthService) Register(ctx context.Context, req *dto.RegisterRequest) (*dto.RegisterResponse, error) {
	email := normalizeEmail(req.Email)

	exists, err := s.userRepo.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEmailExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		CompanyName:  req.CompanyName,
		Email:        email,
		PasswordHash: string(hashed),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	// 发送失败不回滚注册，用户可通过 send-otp 重发
	if err := s.issueOTP(ctx, user, model.OTPTypeEmailVerification); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("user_id", user.ID).Msg("failed to send verification otp")
	}

	token, err := jwt.GenerateToken("", user.Email, s.cfg.Secret, s.verifyTTL())
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Str("user_id", user.ID).Msg("user registered")

	return &dto.RegisterResponse{
		User:              buildUserInfo(user),
		VerificationToken: token,
	}, nil
}

// SendOTP 重新发送邮箱验证码
func (s *AuthService) SendOTP(ctx context.Context, email string) (*dto.VerificationTokenResponse, error) {
	user, err := s.findUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.IsVerified {
		return nil, ErrAlreadyVerified
	}

	if err := s.issueOTP(ctx, user, model.OTPTypeEmailVerification); err != nil {
		return nil, err
	}

	token, err := jwt.GenerateToken("", user.Email, s.cfg.Secret, s.verifyTTL())
	if err != nil {
		return nil, err
	}
	return &dto.VerificationTokenResponse{VerificationToken: token}, nil
}

// VerifyOTP 校验邮箱验证码并标记用户已验证
func (s *AuthService) VerifyOTP(ctx context.Context, req *dto.VerifyOTPRequest) (*dto.UserInfo, error) {
	email := normalizeEmail(req.Email)

	if !s.sessionMatches(req.VerificationToken, email) {
		return nil, ErrInvalidVerifySession
	}

	ok, err := s.consumeOTP(ctx, email, req.OTP, model.OTPTypeEmailVerification)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidOTP
	}

	if err := s.userRepo.MarkVerified(ctx, email); err != nil {
		return nil, fmt.Errorf("mark verified: %w", err)
	}

	user, err := s.findUser(ctx, email)
	if err != nil {
		return nil, err
	}
	return buildUserInfo(user), nil
}

// Login 用户登录，未验证邮箱返回 ErrEmailNotVerified
func (s *AuthService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error) {
	user, err := s.userRepo.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsVerified {
		return nil, ErrEmailNotVerified
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := jwt.GenerateToken(user.ID, user.Email, s.cfg.Secret, s.authTTL())
	if err != nil {
		return nil, err
	}

	return &dto.LoginResponse{
		Token: token,
		User:  buildUserInfo(user),
	}, nil
}

// ForgotPassword 发送密码重置验证码
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (*dto.VerificationTokenResponse, error) {
	user, err := s.findUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if !user.IsVerified {
		return nil, ErrVerifyBeforeReset
	}

	if err := s.issueOTP(ctx, user, model.OTPTypePasswordReset); err != nil {
		return nil, err
	}

	token, err := jwt.GenerateToken("", user.Email, s.cfg.Secret, s.verifyTTL())
	if err != nil {
		return nil, err
	}
	return &dto.VerificationTokenResponse{VerificationToken: token}, nil
}

// VerifyResetOTP 校验重置验证码，返回重置令牌
func (s *AuthService) VerifyResetOTP(ctx context.Context, req *dto.VerifyOTPRequest) (*dto.VerifyResetOTPResponse, error) {
	email := normalizeEmail(req.Email)

	if !s.sessionMatches(req.VerificationToken, email) {
		return nil, ErrInvalidVerifySession
	}

	user, err := s.findUser(ctx, email)
	if err != nil {
		return nil, err
	}

	ok, err := s.consumeOTP(ctx, email, req.OTP, model.OTPTypePasswordReset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidOTP
	}

	token, err := jwt.GenerateToken(user.ID, user.Email, s.cfg.Secret, s.authTTL())
	if err != nil {
		return nil, err
	}
	return &dto.VerifyResetOTPResponse{ResetToken: token}, nil
}

// ResetPassword 使用重置令牌设置新密码。验证会话令牌不含 userId，不能用于重置
func (s *AuthService) ResetPassword(ctx context.Context, req *dto.ResetPasswordRequest) (*dto.UserInfo, error) {
	email := normalizeEmail(req.Email)

	claims, err := jwt.ParseToken(req.ResetToken, s.cfg.Secret)
	if err != nil || claims.UserID == "" || !strings.EqualFold(claims.Email, email) {
		return nil, ErrInvalidResetToken
	}

	user, err := s.findUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.ID != claims.UserID {
		return nil, ErrInvalidResetToken
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := s.userRepo.UpdatePassword(ctx, email, string(hashed)); err != nil {
		return nil, fmt.Errorf("update password: %w", err)
	}

	if err := s.otpRepo.DeleteByEmailAndType(ctx, email, model.OTPTypePasswordReset); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to delete password reset otps")
	}

	zerolog.Ctx(ctx).Info().Str("user_id", user.ID).Msg("password reset")
	return buildUserInfo(user), nil
}

// Me 当前登录用户
func (s *AuthService) Me(ctx context.Context, userID string) (*dto.UserInfo, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return buildUserInfo(user), nil
}

// CleanupExpiredOTPs 删除过期验证码
func (s *AuthService) CleanupExpiredOTPs(ctx context.Context) (int64, error) {
	return s.otpRepo.DeleteExpired(ctx, s.now())
}

func (s *AuthService) findUser(ctx context.Context, email string) (*model.User, error) {
	user, err := s.userRepo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *AuthService) sessionMatches(token, email string) bool {
	claims, err := jwt.ParseToken(token, s.cfg.Secret)
	if err != nil {
		return false
	}
	return strings.EqualFold(claims.Email, email)
}

// issueOTP 生成新验证码（作废同类型旧码）并发送邮件
func (s *AuthService) issueOTP(ctx context.Context, user *model.User, otpType string) error {
	code, err := generateOTP()
	if err != nil {
		return err
	}

	if err := s.otpRepo.DeleteByEmailAndType(ctx, user.Email, otpType); err != nil {
		return fmt.Errorf("delete old otps: %w", err)
	}

	otp := &model.OTP{
		Email:     user.Email,
		Code:      code,
		Type:      otpType,
		ExpiresAt: s.now().Add(OTPTTL),
	}
	if err := s.otpRepo.Create(ctx, otp); err != nil {
		return fmt.Errorf("create otp: %w", err)
	}

	if otpType == model.OTPTypePasswordReset {
		err = s.mailer.SendPasswordResetOTP(user.Email, user.FirstName, code)
	} else {
		err = s.mailer.SendVerificationOTP(user.Email, user.FirstName, code)
	}
	if err != nil {
		return fmt.Errorf("send otp email: %w", err)
	}
	return nil
}

// consumeOTP 验证码单次有效；过期的直接删除
func (s *AuthService) consumeOTP(ctx context.Context, email, code, otpType string) (bool, error) {
	otp, err := s.otpRepo.FindUnverified(ctx, email, code, otpType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	if s.now().After(otp.ExpiresAt) {
		if err := s.otpRepo.Delete(ctx, otp.ID); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Int64("otp_id", otp.ID).Msg("failed to delete expired otp")
		}
		return false, nil
	}

	return s.otpRepo.MarkVerified(ctx, otp.ID)
}

// generateOTP 4 位数字验证码
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+1000), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func buildUserInfo(user *model.User) *dto.UserInfo {
	return &dto.UserInfo{
		ID:          user.ID,
		Email:       user.Email,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		CompanyName: user.CompanyName,
		IsVerified:  user.IsVerified,
		CreatedAt:   user.CreatedAt.Format(time.RFC3339),
	}
}
