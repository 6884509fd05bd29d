package roomsync

import (
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// authExpiry best-effort decodes an auth token as an unverified JWT and
// returns its exp claim. This is not authentication - the token is never
// verified here, only inspected - and it exists purely to schedule a
// proactive getAuth refresh ahead of expiry. A token that does not parse as
// a JWT (e.g. an opaque session id) yields ok=false and the watchdog's
// ordinary reconnect cycle remains the only refresh trigger.
func authExpiry(token string) (exp time.Time, ok bool) {
	if token == "" {
		return time.Time{}, false
	}
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	claims, ok := parsed.Claims.(gojwt.MapClaims)
	if !ok {
		return time.Time{}, false
	}
	expClaim, err := claims.GetExpirationTime()
	if err != nil || expClaim == nil {
		return time.Time{}, false
	}
	return expClaim.Time, true
}

// refreshDelay returns how long to wait before proactively invoking getAuth,
// leaving a fixed safety margin before the token's expiry. A token with no
// decodable expiry disables proactive refresh (0, false).
func refreshDelay(token string, now time.Time, margin time.Duration) (time.Duration, bool) {
	exp, ok := authExpiry(token)
	if !ok {
		return 0, false
	}
	d := exp.Sub(now) - margin
	if d < 0 {
		d = 0
	}
	return d, true
}
