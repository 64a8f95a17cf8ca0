package events

import "github.com/sandeepkv93/token-lifecycle-gateway/internal/domain"

const (
	EventAccessTokenRevoked = "access-token-revoked"
	EventSessionRevoked     = "session-revoked"
	EventSecurityRevocation = "security-revocation"

	DataTypeTokenRevocation = "token_revocation"
)

type RevocationType string

const (
	RevocationAccessTokenRefresh RevocationType = "ACCESS_TOKEN_REFRESH"
	RevocationSessionLogout      RevocationType = "SESSION_LOGOUT"
	RevocationSecurity           RevocationType = "SECURITY_REVOCATION"
)

// RevocationEvent is the envelope published on the shared revocation channel.
// ResourceUID is the tokenUID and ReceiverUID the owning userUID.
type RevocationEvent struct {
	EventType   string         `json:"eventType"`
	ResourceUID string         `json:"resourceUID"`
	ReceiverUID string         `json:"receiverUID"`
	DataType    string         `json:"dataType"`
	Body        RevocationBody `json:"body"`
}

type RevocationBody struct {
	TokenUID       string         `json:"tokenUID"`
	UserUID        string         `json:"userUID"`
	AccessToken    string         `json:"accessToken"`
	RefreshToken   string         `json:"refreshToken,omitempty"`
	RevocationType RevocationType `json:"revocationType"`
	Reason         string         `json:"reason"`
}

func newEvent(eventType string, rec *domain.TokenRecord, accessToken, refreshToken string, kind RevocationType, reason string) RevocationEvent {
	return RevocationEvent{
		EventType:   eventType,
		ResourceUID: rec.TokenUID,
		ReceiverUID: rec.UserUID,
		DataType:    DataTypeTokenRevocation,
		Body: RevocationBody{
			TokenUID:       rec.TokenUID,
			UserUID:        rec.UserUID,
			AccessToken:    accessToken,
			RefreshToken:   refreshToken,
			RevocationType: kind,
			Reason:         reason,
		},
	}
}

// AccessTokenRevoked announces that previousAccessToken was replaced by a
// refresh. The refresh token is still live and is not included.
func AccessTokenRevoked(rec *domain.TokenRecord, previousAccessToken string) RevocationEvent {
	return newEvent(EventAccessTokenRevoked, rec, previousAccessToken, "", RevocationAccessTokenRefresh, "access token refreshed")
}

func SessionRevoked(rec *domain.TokenRecord) RevocationEvent {
	return newEvent(EventSessionRevoked, rec, rec.AccessToken, rec.RefreshToken, RevocationSessionLogout, "user logout")
}

// SecurityRevocation must be built from the record before it is mutated so
// consumers can still match the live token values.
func SecurityRevocation(rec *domain.TokenRecord, reason string) RevocationEvent {
	return newEvent(EventSecurityRevocation, rec, rec.AccessToken, rec.RefreshToken, RevocationSecurity, reason)
}
