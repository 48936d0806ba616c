package handler

import (
	"time"

	"custodia/internal/credential"
	"custodia/internal/purpose"
)

// TokenResponse is returned from application token rotation. The token field
// is the only place the plaintext ever appears.
type TokenResponse struct {
	AppID     string    `json:"app_id"`
	Token     string    `json:"token"`
	RotatedAt time.Time `json:"rotated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func fromAppToken(plaintext string, record credential.AppToken) TokenResponse {
	return TokenResponse{
		AppID:     record.AppID,
		Token:     plaintext,
		RotatedAt: record.RotatedAt,
		ExpiresAt: record.ExpiresAt,
	}
}

// ImportResponse reports how many rows an import committed.
type ImportResponse struct {
	Imported int `json:"imported"`
}

// PurposesResponse lists the processing purposes the console can offer.
type PurposesResponse struct {
	Purposes []purpose.Purpose `json:"purposes"`
}
