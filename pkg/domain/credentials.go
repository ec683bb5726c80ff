package domain

// Credentials identify one Discord bot account. The token never leaves the
// broker process once a connection is established; node processes resend it
// with every request so the broker can connect on demand.
type Credentials struct {
	ClientID string `json:"clientId"`
	Token    string `json:"token"`
}

// Identity derives the stable registry key for these credentials. Two
// credential sets with the same client ID share one connection.
func (c Credentials) Identity() string {
	return "bot-" + c.ClientID
}

func (c Credentials) Valid() bool {
	return c.ClientID != "" && c.Token != ""
}
