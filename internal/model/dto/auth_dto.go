package dto

// RegisterRequest 注册请求
type RegisterRequest struct {
	FirstName   string  `json:"firstName" binding:"required,max=100"`
	LastName    string  `json:"lastName" binding:"required,max=100"`
	CompanyName *string `json:"companyName,omitempty" binding:"omitempty,max=200"`
	Email       string  `json:"email" binding:"required,email"`
	Password    string  `json:"password" binding:"required,min=6,max=72"`
}

// RegisterResponse 注册响应
type RegisterResponse struct {
	User              *UserInfo `json:"user"`
	VerificationToken string    `json:"verificationToken"`
}

// EmailRequest 仅包含邮箱（send-otp / forgot-password）
type EmailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// VerificationTokenResponse 验证会话令牌
type VerificationTokenResponse struct {
	VerificationToken string `json:"verificationToken"`
}

// VerifyOTPRequest 验证码校验请求
type VerifyOTPRequest struct {
	Email             string `json:"email" binding:"required,email"`
	OTP               string `json:"otp" binding:"required,len=4,numeric"`
	VerificationToken string `json:"verificationToken" binding:"required"`
}

// VerifyResetOTPResponse 重置令牌
type VerifyResetOTPResponse struct {
	ResetToken string `json:"resetToken"`
}

// ResetPasswordRequest 重置密码请求
type ResetPasswordRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=6,max=72"`
	ResetToken string `json:"resetToken" binding:"required"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	Token string    `json:"token"`
	User  *UserInfo `json:"user"`
}

// NeedsVerification 未验证邮箱时登录返回的数据
type NeedsVerification struct {
	NeedsVerification bool   `json:"needsVerification"`
	Email             string `json:"email"`
}

// UserInfo 用户信息（返回给前端）
type UserInfo struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	FirstName   string  `json:"firstName"`
	LastName    string  `json:"lastName"`
	CompanyName *string `json:"companyName,omitempty"`
	IsVerified  bool    `json:"isVerified"`
	CreatedAt   string  `json:"createdAt,omitempty"`
}
