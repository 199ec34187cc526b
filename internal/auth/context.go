package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxPartyID
	ctxRole
)

// Identity is the authenticated caller.
type Identity struct {
	UserID  string
	PartyID string
	Role    string
}

func WithIdentity(ctx context.Context, userID, partyID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxPartyID, partyID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

func PartyID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxPartyID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("party_id not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}

// IdentityFrom collects whatever identity is present; missing parts are empty.
func IdentityFrom(ctx context.Context) Identity {
	uid, _ := UserID(ctx)
	pid, _ := PartyID(ctx)
	role, _ := Role(ctx)
	return Identity{UserID: uid, PartyID: pid, Role: role}
}
