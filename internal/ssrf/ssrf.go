// Package ssrf classifies outbound target hosts. The webhook engine only
// accepts local/private targets (fakes must never POST to production),
// while the read-only snapshot client rejects exactly those same hosts.
package ssrf

import (
	"net"
	"strings"
)

// localAliases are hostnames that always count as local targets.
var localAliases = map[string]struct{}{
	"localhost":            {},
	"host.docker.internal": {},
}

// IsLocalAlias reports whether the hostname is a well-known local alias.
func IsLocalAlias(host string) bool {
	_, ok := localAliases[strings.ToLower(host)]
	return ok
}

// IsPrivateIPLiteral reports whether the host is an IP literal in
// loopback, private, link-local or unspecified space. Hostnames that are
// not IP literals return false; no DNS resolution is performed.
func IsPrivateIPLiteral(host string) bool {
	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// IsLocalTarget reports whether a hostname is an acceptable webhook
// target: a local alias or a private/loopback IP literal.
func IsLocalTarget(host string) bool {
	return IsLocalAlias(host) || IsPrivateIPLiteral(host)
}
