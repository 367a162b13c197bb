package handler

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cohort-portal-api/internal/models"
	"github.com/noah-isme/cohort-portal-api/internal/service"
	appErrors "github.com/noah-isme/cohort-portal-api/pkg/errors"
	"github.com/noah-isme/cohort-portal-api/pkg/response"
)

const (
	stateCookie  = "oauth_state"
	signupCookie = "signup_token"
)

// GoogleHandler exposes the Google OAuth signup flow.
type GoogleHandler struct {
	service *service.GoogleService
}

// NewGoogleHandler creates a new handler.
func NewGoogleHandler(svc *service.GoogleService) *GoogleHandler {
	return &GoogleHandler{service: svc}
}

// Login godoc
// @Summary Start Google sign-in
// @Description Redirect the browser to Google's consent screen
// @Tags Google
// @Success 307
// @Router /google [get]
func (h *GoogleHandler) Login(c *gin.Context) {
	state, err := randomState()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create state"))
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, 600, "/", "", false, true)
	c.Redirect(http.StatusTemporaryRedirect, h.service.AuthURL(state))
}

// Callback godoc
// @Summary Google OAuth callback
// @Description Exchange the authorization code, then redirect to the frontend with a signup cookie
// @Tags Google
// @Success 307
// @Failure 403 {object} response.Envelope
// @Router /google/callback [get]
func (h *GoogleHandler) Callback(c *gin.Context) {
	state, err := c.Cookie(stateCookie)
	if err != nil || state == "" || state != c.Query("state") {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid oauth state"))
		return
	}
	c.SetCookie(stateCookie, "", -1, "/", "", false, true)

	code := c.Query("code")
	if code == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "missing authorization code"))
		return
	}

	signupToken, err := h.service.HandleCallback(c.Request.Context(), code)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(signupCookie, signupToken, int(h.service.SignupTokenTTL().Seconds()), "/", "", false, true)
	c.Redirect(http.StatusTemporaryRedirect, h.service.FrontendURL())
}

// SignupInfo godoc
// @Summary Pending Google signup details
// @Description Return the email, name and picture captured from Google for the pending signup
// @Tags Google
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /google/signup-info [get]
func (h *GoogleHandler) SignupInfo(c *gin.Context) {
	token, err := c.Cookie(signupCookie)
	if err != nil || token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "no pending signup"))
		return
	}

	info, err := h.service.SignupInfo(token)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, info, nil)
}

// CompleteSignup godoc
// @Summary Finish Google signup
// @Description Create or link the account for the pending Google identity and issue a session token
// @Tags Google
// @Accept json
// @Produce json
// @Param payload body models.CompleteProfileRequest true "Profile payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /google/complete [post]
func (h *GoogleHandler) CompleteSignup(c *gin.Context) {
	token, err := c.Cookie(signupCookie)
	if err != nil || token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "no pending signup"))
		return
	}

	var req models.CompleteProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid profile payload"))
		return
	}

	res, err := h.service.CompleteSignup(c.Request.Context(), token, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.SetCookie(signupCookie, "", -1, "/", "", false, true)
	response.JSON(c, http.StatusOK, res, nil)
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
