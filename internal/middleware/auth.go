package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/CipherHitro/AiMind/internal/logging"
	"github.com/CipherHitro/AiMind/internal/model/user"
	"github.com/CipherHitro/AiMind/internal/store"
	"github.com/CipherHitro/AiMind/pkg/utils"
)

type contextKey string

const userContextKey contextKey = "authenticatedUser"

// Claims is the JWT payload carried by the auth cookie.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Authenticator verifies the session cookie and resolves the user behind it.
type Authenticator struct {
	users      store.UserStore
	secret     []byte
	cookieName string
}

// NewAuthenticator builds the auth middleware from the signing secret and the
// cookie the frontend sets at login.
func NewAuthenticator(users store.UserStore, secret, cookieName string) *Authenticator {
	return &Authenticator{users: users, secret: []byte(secret), cookieName: cookieName}
}

// Authenticate resolves the request's session cookie to a user. Requests
// without a valid cookie get 401; a valid token whose user no longer exists
// gets 401 as well.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := a.userFromRequest(r)
		if err != nil {
			utils.RespondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

// UserFromRequest authenticates outside the middleware chain, for the
// websocket upgrade path.
func (a *Authenticator) UserFromRequest(r *http.Request) (user.User, error) {
	return a.userFromRequest(r)
}

func (a *Authenticator) userFromRequest(r *http.Request) (user.User, error) {
	cookie, err := r.Cookie(a.cookieName)
	if err != nil {
		return user.User{}, errors.New("missing session cookie")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return user.User{}, errors.New("invalid session token")
	}

	u, err := a.users.GetUser(r.Context(), claims.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrUserNotFound) {
			logging.L().Error().Err(err).Str("user_id", claims.UserID).Msg("failed to load authenticated user")
		}
		return user.User{}, errors.New("unknown user")
	}
	return u, nil
}

// WithUser stores the authenticated user on the context.
func WithUser(ctx context.Context, u user.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// UserFrom returns the authenticated user placed by Authenticate.
func UserFrom(ctx context.Context) (user.User, bool) {
	u, ok := ctx.Value(userContextKey).(user.User)
	return u, ok
}
