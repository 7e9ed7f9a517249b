package connection

import "time"

// Connection is one configured link to a provider org, as persisted in the
// connections document. The access token is written by the host's OAuth flow;
// this service only reads it.
type Connection struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ClientID     string    `json:"clientId"`
	ClientSecret string    `json:"clientSecret"`
	Region       string    `json:"region"`
	Authorized   bool      `json:"authorized"`
	AccessToken  string    `json:"accessToken,omitempty"`
	TokenExpiry  time.Time `json:"tokenExpiry,omitempty"`
	Created      time.Time `json:"created"`
}

// Document is the on-disk shape of connections.json.
type Document struct {
	Connections []Connection `json:"connections"`
}

// DeliveryMethod selects how a live connection receives events.
type DeliveryMethod string

const (
	MethodWebsocket DeliveryMethod = "websocket"
	MethodPolling   DeliveryMethod = "polling"
)
