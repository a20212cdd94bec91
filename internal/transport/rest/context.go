package rest

import (
	"context"

	"github.com/google/uuid"
)

type ctxKeyMemberID struct{}
type ctxKeyRole struct{}

type AuthContext struct {
	MemberID uuid.UUID
	Role     string
}

func withAuth(ctx context.Context, a AuthContext) context.Context {
	ctx = context.WithValue(ctx, ctxKeyMemberID{}, a.MemberID)
	ctx = context.WithValue(ctx, ctxKeyRole{}, a.Role)
	return ctx
}

func GetAuth(ctx context.Context) (AuthContext, bool) {
	mid, ok := ctx.Value(ctxKeyMemberID{}).(uuid.UUID)
	if !ok {
		return AuthContext{}, false
	}
	role, _ := ctx.Value(ctxKeyRole{}).(string)

	return AuthContext{MemberID: mid, Role: role}, true
}
