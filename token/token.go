// Package token issues, activates, and deactivates the short-lived
// payment tokens bound to routing sessions.
package token

import (
	"errors"
	"time"
)

// Platform identifies the client operating system.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// Wallet identifies the wallet application receiving the token.
type Wallet string

const (
	WalletApplePay   Wallet = "apple_pay"
	WalletGooglePay  Wallet = "google_pay"
	WalletSamsungPay Wallet = "samsung_pay"
)

// State is the lifecycle state of a payment token.
type State string

const (
	StateIssued      State = "ISSUED"
	StateActivated   State = "ACTIVATED"
	StateDeactivated State = "DEACTIVATED"
	StateExpired     State = "EXPIRED"
)

var (
	// ErrProvisioningFailed indicates the issuance routine failed. The
	// session remains in its prior state and the caller may retry.
	ErrProvisioningFailed = errors.New("token provisioning failed")
	// ErrNoToken indicates no token exists for the session.
	ErrNoToken = errors.New("no token for session")
)

// Token is a provisioned payment token. The DPAN material itself never
// leaves the token service; only this reference record does.
type Token struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	CardID    string    `json:"card_id"`
	Network   string    `json:"network"`
	Platform  Platform  `json:"platform"`
	Wallet    Wallet    `json:"wallet"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Request carries the inputs to Provision.
type Request struct {
	CardID   string
	Network  string
	Platform Platform
	Wallet   Wallet
}
