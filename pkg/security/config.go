// Package security defines platform-wide TLS configuration structures.
package security

// Config is the platform security configuration carried in the top-level
// service config.
type Config struct {
	TLS TLSConfig `json:"tls" yaml:"tls"`
}

// TLSConfig groups server-side and client-side TLS settings.
type TLSConfig struct {
	Server ServerTLSConfig `json:"server" yaml:"server"`
	Client ClientTLSConfig `json:"client" yaml:"client"`
}

// ServerTLSConfig configures TLS for the listener side of the protocol.
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	CertFile   string `json:"cert_file" yaml:"cert_file"`
	KeyFile    string `json:"key_file" yaml:"key_file"`
	MinVersion string `json:"min_version" yaml:"min_version"` // "1.2" or "1.3"
}

// ClientTLSConfig configures how a transport client verifies the server.
// Exactly one trust source applies, decided once at construction:
// an explicit CA file, a CA directory, the system default trust store,
// or none (insecure).
type ClientTLSConfig struct {
	CAFile     string `json:"ca_file" yaml:"ca_file"`
	CAPath     string `json:"ca_path" yaml:"ca_path"`
	UseDefault bool   `json:"use_default" yaml:"use_default"`
	Insecure   bool   `json:"insecure" yaml:"insecure"`
	MinVersion string `json:"min_version" yaml:"min_version"`
}
