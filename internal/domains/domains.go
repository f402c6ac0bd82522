package domains

import (
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Checker answers whether an address or URL belongs to one of the
// organisation's internal domains.
type Checker struct {
	domains []string
	logger  *zap.Logger
}

// NewChecker creates a new internal-domain checker.
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	// Normalize domains (lowercase)
	normalized := make([]string, len(domains))
	for i, domain := range domains {
		normalized[i] = strings.ToLower(strings.TrimSpace(domain))
	}

	if len(normalized) > 0 && logger != nil {
		logger.Info("Initialized internal-domain checker", zap.Strings("domains", normalized))
	}

	return &Checker{
		domains: normalized,
		logger:  logger,
	}
}

// ExtractAddress pulls the bare address out of an RFC 5322 style
// header value such as "Name <user@example.com>".
func ExtractAddress(header string) string {
	addr := strings.TrimSpace(header)
	if idx := strings.Index(addr, "<"); idx != -1 {
		addr = addr[idx+1:]
		if idx := strings.Index(addr, ">"); idx != -1 {
			addr = addr[:idx]
		}
	}
	return addr
}

// IsInternalAddress checks if the address's domain is internal.
func (c *Checker) IsInternalAddress(addr string) bool {
	parts := strings.Split(ExtractAddress(addr), "@")
	if len(parts) != 2 {
		return false
	}
	return c.isInternal(parts[1])
}

// IsInternalURL checks if the URL's host is an internal domain.
func (c *Checker) IsInternalURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	return c.isInternal(u.Hostname())
}

func (c *Checker) isInternal(domain string) bool {
	if len(c.domains) == 0 {
		return false
	}

	domain = strings.ToLower(domain)
	for _, internal := range c.domains {
		if domain == internal || strings.HasSuffix(domain, "."+internal) {
			if c.logger != nil {
				c.logger.Debug("Domain is internal", zap.String("domain", domain))
			}
			return true
		}
	}
	return false
}
