package models

import "time"

// User is an authenticated principal: a dashboard operator or a
// machine-token-bearing service account.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// APIKeyConfig is one statically configured machine token.
type APIKeyConfig struct {
	Key    string `json:"key" yaml:"key"` // SHA-256 digest, hex-encoded
	UserID string `json:"userId,omitempty" yaml:"userId"`
	Email  string `json:"email,omitempty" yaml:"email"`
	Name   string `json:"name,omitempty" yaml:"name"`
}
