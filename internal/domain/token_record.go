package domain

import "time"

// TokenRecord is the durable lifecycle record of one issued session. TokenUID is
// also embedded as the jti claim of both bearer tokens minted for the session.
type TokenRecord struct {
	TokenUID              string    `gorm:"primaryKey;size:64" bson:"_id" json:"token_uid"`
	UserUID               string    `gorm:"size:64;index:idx_token_records_user_revoked;not null" bson:"user_uid" json:"user_uid"`
	AccessToken           string    `gorm:"type:text;not null" bson:"access_token" json:"-"`
	RefreshToken          string    `gorm:"type:text;not null" bson:"refresh_token" json:"-"`
	IssuedAt              time.Time `gorm:"not null" bson:"issued_at" json:"issued_at"`
	ExpiresAt             time.Time `gorm:"index;not null" bson:"expires_at" json:"expires_at"`
	RefreshTokenExpiresAt time.Time `gorm:"not null" bson:"refresh_token_expires_at" json:"refresh_token_expires_at"`
	Revoked               bool      `gorm:"index:idx_token_records_user_revoked;not null;default:false" bson:"revoked" json:"revoked"`
	RefreshTokenRevoked   bool      `gorm:"not null;default:false" bson:"refresh_token_revoked" json:"refresh_token_revoked"`
	Expired               bool      `gorm:"not null;default:false" bson:"expired" json:"expired"`
	CreatedAt             time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt             time.Time `bson:"updated_at" json:"updated_at"`
}

// RemainingLifetime is the time left before the access token expires on its own.
// It is negative once the natural expiry has passed.
func (r *TokenRecord) RemainingLifetime(now time.Time) time.Duration {
	return r.ExpiresAt.Sub(now)
}

// IsActive reports whether the session can still authenticate and refresh.
func (r *TokenRecord) IsActive(now time.Time) bool {
	return !r.Revoked && !r.RefreshTokenRevoked && now.Before(r.ExpiresAt)
}

// FullyRevoked reports whether both the access and refresh sides are revoked.
func (r *TokenRecord) FullyRevoked() bool {
	return r.Revoked && r.RefreshTokenRevoked
}

// RefreshUsable reports whether the refresh handle of the record may still mint
// a new access token.
func (r *TokenRecord) RefreshUsable(now time.Time) bool {
	return !r.Revoked && !r.RefreshTokenRevoked && now.Before(r.RefreshTokenExpiresAt)
}
