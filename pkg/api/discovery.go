package api

import "fmt"

// WellKnownPath is the fixed path suffix, relative to a server's base
// URL, where the capability document is published.
const WellKnownPath = "/info.json"

// DiscoveryDocument is the set of server-advertised endpoints parsed
// from the well-known capability document. Fetched fresh per session;
// never persisted.
type DiscoveryDocument struct {
	APIVersion               int    `json:"api_version"`
	AuthorizationEndpoint    string `json:"authorization_endpoint"`
	TokenEndpoint            string `json:"token_endpoint"`
	ProfileListEndpoint      string `json:"profile_list_endpoint"`
	CreateKeyPairEndpoint    string `json:"create_keypair_endpoint"`
	ProfileConfigEndpoint    string `json:"profile_config_endpoint"`
	CheckCertificateEndpoint string `json:"check_certificate_endpoint"`
}

// Validate reports the first missing required endpoint, if any.
func (d *DiscoveryDocument) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"authorization_endpoint", d.AuthorizationEndpoint},
		{"token_endpoint", d.TokenEndpoint},
		{"profile_list_endpoint", d.ProfileListEndpoint},
		{"create_keypair_endpoint", d.CreateKeyPairEndpoint},
		{"profile_config_endpoint", d.ProfileConfigEndpoint},
		{"check_certificate_endpoint", d.CheckCertificateEndpoint},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("discovery document is missing %s", r.name)
		}
	}
	return nil
}
