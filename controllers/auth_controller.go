package controller

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"inboxpilot/models"
	"inboxpilot/utils"
)

type AuthController struct {
	db       *gorm.DB
	provider utils.MailProvider
	oauth    *oauth2.Config
	logger   *log.Logger
}

func NewAuthController(db *gorm.DB, provider utils.MailProvider, oauth *oauth2.Config, logger *log.Logger) *AuthController {
	return &AuthController{
		db:       db,
		provider: provider,
		oauth:    oauth,
		logger:   logger,
	}
}

// GoogleOAuth starts the connect flow. The random state round-trips through a
// short-lived cookie to block CSRF on the callback.
func (ac *AuthController) GoogleOAuth(c *fiber.Ctx) error {
	state, err := generateState()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, utils.CodeInternal,
			"Failed to generate state", err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Expires:  time.Now().Add(10 * time.Minute),
		HTTPOnly: true,
		SameSite: "Lax",
	})

	// offline + consent forces a refresh token even on reconnect.
	url := ac.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	return c.Redirect(url, fiber.StatusTemporaryRedirect)
}

type googleUserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// GoogleOAuthCallback finishes the connect flow: exchanges the code, stores
// the account with encrypted tokens, registers the mailbox watch and issues a
// session token.
func (ac *AuthController) GoogleOAuthCallback(c *fiber.Ctx) error {
	if c.Query("state") == "" || c.Query("state") != c.Cookies("oauth_state") {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, utils.CodeAuthFailed,
			"Invalid OAuth state", nil)
	}
	c.ClearCookie("oauth_state")

	code := c.Query("code")
	if code == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, utils.CodeAuthFailed,
			"Missing authorization code", nil)
	}

	ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
	defer cancel()

	token, err := ac.oauth.Exchange(ctx, code)
	if err != nil {
		ac.logger.Printf("OAuth code exchange failed: %v", err)
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, utils.CodeAuthFailed,
			"Failed to exchange authorization code", err)
	}

	info, err := ac.fetchUserInfo(ctx, token)
	if err != nil {
		ac.logger.Printf("Failed to fetch user info: %v", err)
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, utils.CodeAuthFailed,
			"Failed to fetch Google profile", err)
	}

	user, err := ac.upsertUser(info, token)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, utils.CodeInternal,
			"Failed to save account", err)
	}

	// Watch registration failing is not fatal: the renewal worker retries,
	// and the mailbox just stays quiet until then.
	ac.startWatch(ctx, user, token)

	sessionToken, err := utils.GenerateSessionToken(user)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, utils.CodeInternal,
			"Failed to issue session token", err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"token":   sessionToken,
		"user":    user,
	})
}

func (ac *AuthController) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*googleUserInfo, error) {
	client := ac.oauth.Client(ctx, token)
	resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		return nil, fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	if info.ID == "" || info.Email == "" {
		return nil, fmt.Errorf("userinfo response missing id or email")
	}
	return &info, nil
}

func (ac *AuthController) upsertUser(info *googleUserInfo, token *oauth2.Token) (*models.User, error) {
	encAccess, err := utils.Encrypt(token.AccessToken)
	if err != nil {
		return nil, err
	}
	encRefresh, err := utils.Encrypt(token.RefreshToken)
	if err != nil {
		return nil, err
	}

	var user models.User
	err = ac.db.Where("google_id = ?", info.ID).First(&user).Error
	if err == gorm.ErrRecordNotFound {
		user = models.User{
			Email:    info.Email,
			GoogleID: info.ID,
		}
	} else if err != nil {
		return nil, err
	}

	user.Email = info.Email
	if info.Name != "" {
		user.Name = utils.Pointer(info.Name)
	}
	if info.Picture != "" {
		user.Picture = utils.Pointer(info.Picture)
	}
	user.AccessToken = encAccess
	// Google omits the refresh token on some reconnects; keep the old one.
	if token.RefreshToken != "" {
		user.RefreshToken = encRefresh
	}
	if !token.Expiry.IsZero() {
		user.TokenExpiry = utils.Pointer(token.Expiry)
	}

	if err := ac.db.Save(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (ac *AuthController) startWatch(ctx context.Context, user *models.User, token *oauth2.Token) {
	creds := utils.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}

	info, err := ac.provider.StartWatch(ctx, creds)
	if err != nil {
		ac.logger.Printf("Failed to start watch for user %d: %v", user.ID, err)
		return
	}

	updates := map[string]interface{}{
		"watch_expiration": info.Expiration,
	}
	if user.HistoryID == "" {
		updates["history_id"] = info.HistoryID
	}
	if err := ac.db.Model(user).Updates(updates).Error; err != nil {
		ac.logger.Printf("Failed to store watch state for user %d: %v", user.ID, err)
	}
}

// GetCurrentUser returns the resolved account.
func (ac *AuthController) GetCurrentUser(c *fiber.Ctx) error {
	user := currentUser(c)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"user":    user,
	})
}

func generateState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}
