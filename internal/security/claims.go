package security

import "time"

type TokenClaims struct {
	MemberID string
	Role     string
	Exp      time.Time
	Issuer   string
	Subject  string
}
