package readside

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"beaconrelay/gateway/internal/model"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_beaconrelay._tcp"
	mdnsDomain      = "local."
)

// AnnounceMDNS advertises the gateway's HTTP API on the local network so
// polling clients can find it without configuration. Failures are for the
// caller to log; the gateway runs fine without the announcement.
func AnnounceMDNS(httpPort int, origin model.Origin, logger *slog.Logger) (*zeroconf.Server, error) {
	if httpPort <= 0 {
		return nil, fmt.Errorf("invalid port %d", httpPort)
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "beaconrelay"
	}

	instance := sanitizeMDNSInstance(fmt.Sprintf("Beacon Relay (%s)", origin.ID))
	hostLabel := sanitizeMDNSHost(hostname)

	txt := []string{
		fmt.Sprintf("http_port=%d", httpPort),
		fmt.Sprintf("origin=%s", origin.ID),
		"proto=v1",
		fmt.Sprintf("host=%s", hostLabel),
	}

	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, httpPort, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mdns: %w", err)
	}

	logger.Info("mDNS advertisement started", "instance", instance, "port", httpPort)
	return server, nil
}

func sanitizeMDNSInstance(name string) string {
	cleaned := strings.TrimSpace(name)
	cleaned = strings.ReplaceAll(cleaned, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, ".", " ")
	cleaned = strings.ReplaceAll(cleaned, "_", " ")
	if cleaned == "" {
		cleaned = "Beacon Relay"
	}
	runes := []rune(cleaned)
	const maxLen = 63
	if len(runes) > maxLen {
		cleaned = string(runes[:maxLen])
	}
	return cleaned
}

func sanitizeMDNSHost(name string) string {
	cleaned := strings.TrimSpace(strings.ToLower(name))
	replacer := strings.NewReplacer(" ", "-", "_", "-", "\n", "", "\r", "")
	cleaned = replacer.Replace(cleaned)
	if cleaned == "" {
		cleaned = "beaconrelay"
	}
	// Host labels must be <=63 characters.
	runes := []rune(cleaned)
	if len(runes) > 63 {
		cleaned = string(runes[:63])
	}
	return cleaned
}
