package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/cohort-portal-api/internal/models"
	appErrors "github.com/noah-isme/cohort-portal-api/pkg/errors"
	"github.com/noah-isme/cohort-portal-api/pkg/mailer"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	SetOTP(ctx context.Context, id, code string, expires time.Time, passwordHash string) error
	MarkVerified(ctx context.Context, id string) error
	UpdateProfile(ctx context.Context, user *models.User) error
}

// OTPSender delivers verification-code mail. Implemented by pkg/mailer.
type OTPSender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

type rosterCache interface {
	Delete(ctx context.Context, keys ...string) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	TokenSecret        string
	TokenExpiry        time.Duration
	SignupTokenExpiry  time.Duration
	AllowedEmailDomain string
	OTPTTL             time.Duration
	MailTimeout        time.Duration
}

// AuthService provides signup, verification and session issuance.
type AuthService struct {
	repo      authUserRepository
	mail      OTPSender
	cache     rosterCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, mail OTPSender, cache rosterCache, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.OTPTTL <= 0 {
		config.OTPTTL = 10 * time.Minute
	}
	if config.TokenExpiry <= 0 {
		config.TokenExpiry = time.Hour
	}
	if config.SignupTokenExpiry <= 0 {
		config.SignupTokenExpiry = 10 * time.Minute
	}
	if config.MailTimeout <= 0 {
		config.MailTimeout = 15 * time.Second
	}
	return &AuthService{repo: repo, mail: mail, cache: cache, metrics: metrics, validator: validate, logger: logger, config: config}
}

func (s *AuthService) domainAllowed(email string) bool {
	if s.config.AllowedEmailDomain == "" {
		return true
	}
	return strings.HasSuffix(models.NormalizeEmail(email), s.config.AllowedEmailDomain)
}

// Register creates a verified identity directly and issues a session token.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid register payload")
	}
	if !s.domainAllowed(req.Email) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("email must be a %s address", s.config.AllowedEmailDomain))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	role := models.UserRole(req.Role)
	if role == "" {
		role = models.RoleStudent
	}

	user := &models.User{
		Email:        models.NormalizeEmail(req.Email),
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(req.FullName),
		Role:         role,
		Verified:     true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if isUniqueErr(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "user already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	return s.buildAuthResponse(user)
}

// Login authenticates a verified user and returns an issued session token.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}
	if !s.domainAllowed(req.Email) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("email must be a %s address", s.config.AllowedEmailDomain))
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if user.PasswordHash == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}
	if !user.Verified {
		return nil, appErrors.Clone(appErrors.ErrNotVerified, "verify your email before logging in")
	}

	return s.buildAuthResponse(user)
}

// RequestOTP issues a 6-digit verification code and delivers it by mail. The
// code is persisted before delivery; a delivery failure surfaces as a
// distinct upstream error so the caller may retry issuance (at-least-once).
func (s *AuthService) RequestOTP(ctx context.Context, req models.RequestOTPRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid signup payload")
	}
	email := models.NormalizeEmail(req.Email)
	if !s.domainAllowed(email) {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("email must be a %s address", s.config.AllowedEmailDomain))
	}

	code, err := generateOTP()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate code")
	}
	expires := time.Now().UTC().Add(s.config.OTPTTL)

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user, err := s.repo.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if user.Verified {
			return appErrors.Clone(appErrors.ErrConflict, "user already exists, please login")
		}
		if err := s.repo.SetOTP(ctx, user.ID, code, expires, string(hash)); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store code")
		}
	case errors.Is(err, sql.ErrNoRows):
		provisional := &models.User{
			Email:        email,
			PasswordHash: string(hash),
			FullName:     strings.TrimSpace(req.FullName),
			Role:         models.RoleStudent,
			Verified:     false,
			OTPCode:      &code,
			OTPExpires:   &expires,
		}
		if err := s.repo.Create(ctx, provisional); err != nil {
			if isUniqueErr(err) {
				return appErrors.Clone(appErrors.ErrConflict, "user already exists, please login")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
		}
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	s.metrics.OTPIssued()

	mailCtx, cancel := context.WithTimeout(ctx, s.config.MailTimeout)
	defer cancel()
	if err := s.mail.Send(mailCtx, mailer.OTPMessage(email, code, s.config.OTPTTL)); err != nil {
		s.logger.Warn("otp delivery failed", zap.String("email", email), zap.Error(err))
		s.metrics.EmailSent("otp", false)
		return appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "verification code stored but email delivery failed")
	}
	s.metrics.EmailSent("otp", true)

	return nil
}

// VerifyOTP confirms a previously issued code exactly once. Verification
// flips the verified flag and clears the code and expiry together.
func (s *AuthService) VerifyOTP(ctx context.Context, req models.VerifyOTPRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if user.OTPCode == nil || user.OTPExpires == nil {
		s.metrics.OTPVerified("missing")
		return appErrors.Clone(appErrors.ErrOTPNotIssued, "")
	}
	if time.Now().After(*user.OTPExpires) {
		s.metrics.OTPVerified("expired")
		return appErrors.Clone(appErrors.ErrOTPExpired, "")
	}
	if *user.OTPCode != stripNonDigits(req.OTP) {
		s.metrics.OTPVerified("mismatch")
		return appErrors.Clone(appErrors.ErrOTPMismatch, "")
	}

	if err := s.repo.MarkVerified(ctx, user.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark user verified")
	}
	s.metrics.OTPVerified("ok")
	return nil
}

// CompleteProfile finishes signup for a verified identity, writing (or for
// admins clearing) the student profile fields, and issues a fresh session
// token.
func (s *AuthService) CompleteProfile(ctx context.Context, req models.CompleteProfileRequest) (*models.AuthResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "user not found or not verified")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if !user.Verified {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user not found or not verified")
	}

	user.FullName = strings.TrimSpace(req.FullName)
	if req.Role != "" {
		user.Role = models.UserRole(req.Role)
	}
	if user.Role == "" {
		user.Role = models.RoleStudent
	}

	if user.Role == models.RoleStudent {
		profile := &models.StudentProfile{
			Discipline:  req.Discipline,
			Batch:       req.Batch,
			RollNo:      req.RollNo,
			PhoneNumber: req.PhoneNumber,
			Semester:    req.Semester,
		}
		if req.DateOfJoining != "" {
			joined, err := time.Parse("2006-01-02", req.DateOfJoining)
			if err != nil {
				return nil, appErrors.Clone(appErrors.ErrValidation, "dateOfJoining must be YYYY-MM-DD")
			}
			profile.DateOfJoining = &joined
		}
		user.Profile = profile
	} else {
		user.Profile = nil
	}

	if err := s.repo.UpdateProfile(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, cacheKeyStudents); err != nil {
			s.logger.Warn("failed to invalidate student roster cache", zap.Error(err))
		}
	}

	return s.buildAuthResponse(user)
}

// Me returns the sanitized identity behind a session token.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	return user, nil
}

// ValidateToken parses and validates a session token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.TokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid or expired token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// IssueSignupToken creates the short-lived assertion used between the OAuth
// callback and signup completion.
func (s *AuthService) IssueSignupToken(email, name, picture, googleID string) (string, error) {
	now := time.Now().UTC()
	claims := &models.SignupClaims{
		Email:    models.NormalizeEmail(email),
		Name:     name,
		Picture:  picture,
		GoogleID: googleID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.SignupTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.TokenSecret))
}

// ValidateSignupToken parses and validates a signup assertion.
func (s *AuthService) ValidateSignupToken(tokenString string) (*models.SignupClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.SignupClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.TokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "signup session expired")
	}
	claims, ok := token.Claims.(*models.SignupClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "signup session expired")
	}
	return claims, nil
}

// SignupTokenTTL exposes the signup assertion lifetime for cookie expiry.
func (s *AuthService) SignupTokenTTL() time.Duration {
	return s.config.SignupTokenExpiry
}

func (s *AuthService) buildAuthResponse(user *models.User) (*models.AuthResponse, error) {
	now := time.Now().UTC()
	claims := &models.JWTClaims{
		UserID: user.ID,
		Role:   user.Role,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.TokenSecret))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign token")
	}

	return &models.AuthResponse{
		Token:     signed,
		ExpiresIn: int64(s.config.TokenExpiry.Seconds()),
		IssuedAt:  now,
		User:      user,
		Role:      user.Role,
	}, nil
}

// generateOTP draws a uniform 6-digit code from [100000, 999999].
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func stripNonDigits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
