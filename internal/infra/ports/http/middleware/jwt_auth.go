package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/easyclase/liveclass/internal/domain"
	"github.com/easyclase/liveclass/internal/infra/appctx"
)

// Claims is what the auth subsystem puts in its tokens. This core only
// consumes them: subject is the user id, role and the premium entitlement
// ride along as custom claims.
type Claims struct {
	jwt.RegisteredClaims
	Role    domain.Role `json:"role"`
	Premium bool        `json:"premium,omitempty"`
}

// JWTAuthMiddleware resolves the caller's identity from the jwt cookie or
// the Authorization header (native clients use the header).
func JWTAuthMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := tokenFrom(c)
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing or malformed jwt"})
			}

			token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
				return []byte(secret), nil
			})
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired jwt"})
			}

			claims, ok := token.Claims.(*Claims)
			if !ok || !token.Valid {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired jwt"})
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid subject"})
			}

			if claims.Role != domain.RoleTeacher && claims.Role != domain.RoleStudent {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid role"})
			}

			identity := appctx.Identity{
				UserID:  userID,
				Role:    claims.Role,
				Premium: claims.Premium,
			}

			c.SetRequest(
				c.Request().WithContext(
					appctx.WithIdentity(c.Request().Context(), identity),
				),
			)

			return next(c)
		}
	}
}

func tokenFrom(c echo.Context) string {
	if cookie, err := c.Cookie("jwt"); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}

	return ""
}
