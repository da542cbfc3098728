package models

// TokenPair is the credential pair issued on register/login and rotated
// on every successful refresh.
type TokenPair struct {
	AccessToken  string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}
