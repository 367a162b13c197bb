package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/noah-isme/cohort-portal-api/internal/models"
	appErrors "github.com/noah-isme/cohort-portal-api/pkg/errors"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

type googleUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateProfile(ctx context.Context, user *models.User) error
	LinkGoogleID(ctx context.Context, id, googleID string) error
}

// GoogleConfig configures the institutional Google sign-in.
type GoogleConfig struct {
	ClientID           string
	ClientSecret       string
	RedirectURL        string
	FrontendURL        string
	AllowedEmailDomain string
}

// GoogleService drives the OAuth signup/login flow: redirect, callback,
// signup prefill and completion.
type GoogleService struct {
	repo   googleUserRepository
	auth   *AuthService
	oauth  *oauth2.Config
	logger *zap.Logger
	config GoogleConfig
}

// NewGoogleService constructs a GoogleService.
func NewGoogleService(repo googleUserRepository, auth *AuthService, logger *zap.Logger, config GoogleConfig) *GoogleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	oauthConfig := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		RedirectURL:  config.RedirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		Endpoint: google.Endpoint,
	}
	return &GoogleService{repo: repo, auth: auth, oauth: oauthConfig, logger: logger, config: config}
}

// AuthURL returns the Google consent redirect target.
func (s *GoogleService) AuthURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// FrontendURL exposes the configured frontend origin for redirects.
func (s *GoogleService) FrontendURL() string {
	return s.config.FrontendURL
}

// SignupTokenTTL mirrors the signup token lifetime for cookie expiry.
func (s *GoogleService) SignupTokenTTL() time.Duration {
	return s.auth.SignupTokenTTL()
}

type googleUserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// HandleCallback exchanges the authorization code, enforces the allowed email
// domain and returns a short-lived signup token for the completion step.
func (s *GoogleService) HandleCallback(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "missing authorization code")
	}

	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "failed to exchange authorization code")
	}

	client := s.oauth.Client(ctx, token)
	resp, err := client.Get(googleUserInfoURL)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "failed to fetch user info")
	}
	defer resp.Body.Close()

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "failed to decode user info")
	}

	if s.config.AllowedEmailDomain != "" && !strings.HasSuffix(models.NormalizeEmail(info.Email), s.config.AllowedEmailDomain) {
		return "", appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("only %s accounts are allowed", s.config.AllowedEmailDomain))
	}

	signupToken, err := s.auth.IssueSignupToken(info.Email, info.Name, info.Picture, info.ID)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue signup token")
	}
	return signupToken, nil
}

// SignupInfo returns the prefill payload behind a signup token.
func (s *GoogleService) SignupInfo(signupToken string) (map[string]string, error) {
	claims, err := s.auth.ValidateSignupToken(signupToken)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"email":   claims.Email,
		"name":    claims.Name,
		"picture": claims.Picture,
	}, nil
}

// CompleteSignup creates or links the identity behind the signup token,
// persists the role-dependent profile and issues a session token.
func (s *GoogleService) CompleteSignup(ctx context.Context, signupToken string, req models.CompleteProfileRequest) (*models.AuthResponse, error) {
	claims, err := s.auth.ValidateSignupToken(signupToken)
	if err != nil {
		return nil, err
	}

	role := models.UserRole(req.Role)
	if role == "" {
		role = models.RoleStudent
	}
	if !role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid role")
	}

	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		fullName = claims.Name
	}

	user, err := s.repo.FindByEmail(ctx, claims.Email)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		user = &models.User{
			Email:    claims.Email,
			GoogleID: claims.GoogleID,
			FullName: fullName,
			Picture:  claims.Picture,
			Role:     role,
			Verified: true,
		}
		if err := s.repo.Create(ctx, user); err != nil {
			if isUniqueErr(err) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "user already exists")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
		}
	case err != nil:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	default:
		if user.GoogleID == "" {
			if err := s.repo.LinkGoogleID(ctx, user.ID, claims.GoogleID); err != nil {
				s.logger.Warn("failed to link google id", zap.String("email", user.Email), zap.Error(err))
			}
			user.GoogleID = claims.GoogleID
		}
		user.FullName = fullName
		user.Role = role
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

	return s.auth.buildAuthResponse(user)
}
