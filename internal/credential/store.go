package credential

import (
	"context"
	"time"
)

// AppToken is the at-rest record for an application credential. Only the
// bcrypt hash is stored; the plaintext is returned to the caller exactly
// once at rotation time.
type AppToken struct {
	AppID     string
	Hash      []byte
	RotatedAt time.Time
	ExpiresAt time.Time
}

// TokenStore persists minted credentials.
//
// PutDatasetTokenIfAbsent is the idempotency point for dataset tokens: the
// first writer wins and every caller gets the winning value back, so a
// dataset that reaches fully-approved more than once never rotates its
// token implicitly.
type TokenStore interface {
	PutDatasetTokenIfAbsent(ctx context.Context, appID, dataset, token string) (string, error)
	GetDatasetToken(ctx context.Context, appID, dataset string) (string, error)

	PutAppToken(ctx context.Context, token AppToken) error
	GetAppToken(ctx context.Context, appID string) (AppToken, error)
}
