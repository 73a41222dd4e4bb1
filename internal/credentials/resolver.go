// Package credentials picks the shop credentials a request authenticates with.
//
// Credentials are plain values: they are resolved for every unit of work from the
// tenant's record and the mode flag in effect for that request, and passed down
// explicitly. Nothing here is cached.
package credentials

import "kassa-service/internal/model"

// Record is a tenant's stored credential set for both gateway modes.
type Record struct {
	LiveShopID string
	LiveKey    string
	TestShopID string
	TestKey    string
}

type Credentials struct {
	ShopID    string
	SecretKey string
	Live      bool
}

// String hides the secret key so credentials can be logged safely.
func (c Credentials) String() string {
	return "shop " + c.ShopID
}

// Resolve selects the live or test pair. An incomplete pair is a configuration error.
func Resolve(record Record, live bool) (Credentials, error) {
	creds := Credentials{ShopID: record.TestShopID, SecretKey: record.TestKey}
	if live {
		creds = Credentials{ShopID: record.LiveShopID, SecretKey: record.LiveKey, Live: true}
	}

	if creds.ShopID == "" || creds.SecretKey == "" {
		mode := "test"
		if live {
			mode = "live"
		}
		return Credentials{}, &model.ConfigurationError{Message: "missing " + mode + " shop id or secret key"}
	}

	return creds, nil
}
