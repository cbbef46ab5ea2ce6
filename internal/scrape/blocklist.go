package scrape

import (
	"net/url"
	"strings"
	"sync"
)

// Blocklist tracks hosts that must not be scraped. It starts from the
// configured domains and grows at runtime when a host answers 403, so
// repeated runs stop hammering sites that refuse us.
type Blocklist struct {
	mu    sync.RWMutex
	hosts map[string]bool
}

func NewBlocklist(hosts []string) *Blocklist {
	b := &Blocklist{hosts: make(map[string]bool, len(hosts))}
	for _, host := range hosts {
		if normalized := normalizeHost(host); normalized != "" {
			b.hosts[normalized] = true
		}
	}
	return b
}

// Blocked reports whether the URL's host is on the list.
func (b *Blocklist) Blocked(rawURL string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hosts[host]
}

// Block adds the URL's host to the list.
func (b *Blocklist) Block(rawURL string) {
	host := hostOf(rawURL)
	if host == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hosts[host] = true
}

// Hosts returns a snapshot of the blocked hosts.
func (b *Blocklist) Hosts() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hosts := make([]string, 0, len(b.hosts))
	for host := range b.hosts {
		hosts = append(hosts, host)
	}
	return hosts
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return normalizeHost(parsed.Hostname())
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}
