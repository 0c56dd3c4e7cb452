package middleware

import "github.com/labstack/echo/v4"

// Kick calls fn after every handled request.  fn must not block; the server
// passes the sweeper's Loop.Kick so user traffic triggers opportunistic
// reconciliation passes (the sweeper throttles itself).
func Kick(fn func()) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if fn != nil {
				fn()
			}
			return err
		}
	}
}
