package security

import (
	"net/http"
	"strings"
	"sync"

	"ClipSync/tools/errs"
	"ClipSync/tools/security"

	"github.com/gin-gonic/gin"
)

// Context keys downstream handlers read the authenticated identity from.
const (
	CtxUserIDKey   = "authUserID"
	CtxDeviceIDKey = "authDeviceID"
)

type Options struct {
	JWT         security.Options
	HeaderToken string // default "Authorization", Bearer scheme
}

var (
	mu       sync.RWMutex
	defaults *Options
)

// Configure sets the process-wide verification options. Called once at
// startup before routes are mounted.
func Configure(opts Options) {
	if opts.HeaderToken == "" {
		opts.HeaderToken = "Authorization"
	}
	mu.Lock()
	defaults = &opts
	mu.Unlock()
}

func options() *Options {
	mu.RLock()
	defer mu.RUnlock()
	return defaults
}

// Middleware verifies the bearer token and stores the (userID, deviceID)
// pair in the gin context. Everything behind it can trust that pairing.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := options()
		if opts == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, errs.ErrInternalServer.WithDetail("auth not configured"))
			return
		}
		token := BearerToken(c.Request, opts.HeaderToken)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenInvalid.WithDetail("missing bearer token"))
			return
		}
		claims, err := security.Verify(opts.JWT, token, "")
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenExpired.WithDetail(err.Error()))
			return
		}
		userID, deviceID, err := claims.Identity()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenInvalid.WithDetail(err.Error()))
			return
		}
		c.Set(CtxUserIDKey, userID)
		c.Set(CtxDeviceIDKey, deviceID)
		c.Next()
	}
}

// BearerToken pulls the token from the header, or from the query string for
// websocket upgrades where custom headers are awkward in browsers.
func BearerToken(r *http.Request, header string) string {
	if authz := strings.TrimSpace(r.Header.Get(header)); authz != "" {
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
		return authz
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// Identity reads the pair the middleware stored.
func Identity(c *gin.Context) (userID, deviceID string, ok bool) {
	userID = c.GetString(CtxUserIDKey)
	deviceID = c.GetString(CtxDeviceIDKey)
	return userID, deviceID, userID != "" && deviceID != ""
}
