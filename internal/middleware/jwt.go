package middleware

import (
	"bizledger/internal/common"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

// SubjectKey holds the authenticated token subject in the echo context.
const SubjectKey = "subject"

// JWTMiddleware validates HS256 bearer tokens signed with secret. Only the
// standard claims are read; accounts and roles live outside the ledger.
func JWTMiddleware(secret string) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: jwt.SigningMethodHS256.Alg(),
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(jwt.RegisteredClaims)
		},
		SuccessHandler: func(c echo.Context) {
			token, ok := c.Get("user").(*jwt.Token)
			if !ok {
				return
			}
			if sub, err := token.Claims.GetSubject(); err == nil {
				c.Set(SubjectKey, sub)
			}
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return common.SendUnauthorizedError(c)
		},
	})
}

// Subject returns the token subject of an authenticated request.
func Subject(c echo.Context) string {
	sub, _ := c.Get(SubjectKey).(string)
	return sub
}
