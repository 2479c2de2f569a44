package config

// yaml.v3 writes time.Duration as integer nanoseconds. These views write the
// "12h0m0s" form that Load reads back.

type authView struct {
	JWTSecret string `yaml:"jwt_secret"`
	TokenTTL  string `yaml:"token_ttl"`
}

// MarshalYAML implements yaml.Marshaler.
func (a AuthConfig) MarshalYAML() (interface{}, error) {
	return authView{JWTSecret: a.JWTSecret, TokenTTL: a.TokenTTL.String()}, nil
}

type clientView struct {
	Endpoint             string `yaml:"endpoint"`
	PageURL              string `yaml:"page_url"`
	SessionFile          string `yaml:"session_file"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
	KeepaliveInterval    string `yaml:"keepalive_interval"`
	BaseReconnectDelay   string `yaml:"base_reconnect_delay"`
	MaxReconnectDelay    string `yaml:"max_reconnect_delay"`
	ReconnectGrace       string `yaml:"reconnect_grace"`
	HandshakeTimeout     string `yaml:"handshake_timeout"`
}

// MarshalYAML implements yaml.Marshaler.
func (c ClientConfig) MarshalYAML() (interface{}, error) {
	return clientView{
		Endpoint:             c.Endpoint,
		PageURL:              c.PageURL,
		SessionFile:          c.SessionFile,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		KeepaliveInterval:    c.KeepaliveInterval.String(),
		BaseReconnectDelay:   c.BaseReconnectDelay.String(),
		MaxReconnectDelay:    c.MaxReconnectDelay.String(),
		ReconnectGrace:       c.ReconnectGrace.String(),
		HandshakeTimeout:     c.HandshakeTimeout.String(),
	}, nil
}
