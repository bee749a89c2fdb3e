package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// newIssuerTable maps (platform, wallet) to its issuance routine. The
// closed set of supported combinations lives here; anything else falls
// through to genericIssuer.
func newIssuerTable() map[issuerKey]issuer {
	return map[issuerKey]issuer{
		{PlatformIOS, WalletApplePay}:       applePayIssuer{},
		{PlatformAndroid, WalletGooglePay}:  googlePayIssuer{},
		{PlatformAndroid, WalletSamsungPay}: samsungPayIssuer{},
	}
}

type applePayIssuer struct{}

func (applePayIssuer) issue(req Request) (string, []byte, error) {
	dpan, err := dpanMaterial("ap")
	return networkOrDefault(req), dpan, err
}

type googlePayIssuer struct{}

func (googlePayIssuer) issue(req Request) (string, []byte, error) {
	dpan, err := dpanMaterial("gp")
	return networkOrDefault(req), dpan, err
}

type samsungPayIssuer struct{}

func (samsungPayIssuer) issue(req Request) (string, []byte, error) {
	dpan, err := dpanMaterial("sp")
	return networkOrDefault(req), dpan, err
}

// genericIssuer handles platform/wallet combinations without a dedicated
// routine.
type genericIssuer struct{}

func (genericIssuer) issue(req Request) (string, []byte, error) {
	dpan, err := dpanMaterial("gn")
	return networkOrDefault(req), dpan, err
}

func networkOrDefault(req Request) string {
	if req.Network != "" {
		return req.Network
	}
	return "visa"
}

func dpanMaterial(prefix string) ([]byte, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generating DPAN material: %w", err)
	}
	return []byte(prefix + ":" + hex.EncodeToString(buf)), nil
}
