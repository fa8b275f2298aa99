package api

// Profile is a single VPN profile advertised by a server. Read-only;
// sourced fresh from the server per session.
type Profile struct {
	ID             string `json:"profile_id"`
	DisplayName    string `json:"display_name"`
	DefaultGateway bool   `json:"default_gateway,omitempty"`
	TwoFactor      bool   `json:"two_factor,omitempty"`
}

// ProfileListResponse is the wire shape of the profile list call.
type ProfileListResponse struct {
	ProfileList Envelope[[]Profile] `json:"profile_list"`
}
