// Package hostenv decides whether the current install runs on a local or
// development host. Local environments skip remote bookkeeping writes so
// that development activations never pollute production activation counts,
// while still exercising the verification call path.
package hostenv

import (
	"net"
	"os"
	"strings"

	"gbtlicense/internal/config"
)

// Detector matches the install's host against known local hostnames and
// development domain extensions. It performs no network calls.
type Detector struct {
	domain     string
	hostnames  map[string]struct{}
	extensions []string
}

// NewDetector builds a detector for the configured host. When no domain is
// configured the machine hostname is used, mirroring how the server name
// would be resolved on a live install.
func NewDetector(cfg config.HostConfig) *Detector {
	domain := cfg.Domain
	if domain == "" {
		domain = os.Getenv("SERVER_NAME")
	}
	if domain == "" {
		if hn, err := os.Hostname(); err == nil {
			domain = hn
		}
	}

	hostnames := make(map[string]struct{}, len(cfg.LocalHostnames))
	for _, h := range cfg.LocalHostnames {
		hostnames[strings.ToLower(h)] = struct{}{}
	}

	return &Detector{
		domain:     strings.ToLower(domain),
		hostnames:  hostnames,
		extensions: cfg.LocalExtensions,
	}
}

// Domain returns the domain this install is bound to.
func (d *Detector) Domain() string {
	return d.domain
}

// IsLocalhost reports whether the install's domain is a local or development
// host. Exact hostname matches and domain-extension suffix matches both
// qualify; a suffix must literally terminate the host, not merely appear in
// it.
func (d *Detector) IsLocalhost() bool {
	return d.matches(d.domain)
}

func (d *Detector) matches(host string) bool {
	if host == "" {
		return false
	}
	host = strings.ToLower(host)

	// Strip a port if present ("localhost:8080").
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	if host == "localhost" || host == "::1" {
		return true
	}
	if _, ok := d.hostnames[host]; ok {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	for _, ext := range d.extensions {
		if strings.HasSuffix(host, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
