// Package apidb provides the AP-database lookup interface the
// positioning core depends on: findByMac/findByMacs over a canonical,
// case-folded MAC address. The core never mutates AP records.
package apidb

import (
	"strings"

	"github.com/wifiloc/wifiloc/pkg/wifiloc"
)

// Database is the read-only AP lookup collaborator. Absence of a record
// is not an error.
type Database interface {
	FindByMac(mac string) (wifiloc.WifiAccessPoint, bool, error)
	FindByMacs(macs []string) (map[string]wifiloc.WifiAccessPoint, error)
}

// CanonicalMAC lower-cases and normalises a MAC address to
// colon-separated hex (aa:bb:cc:dd:ee:ff), accepting hyphen or bare-hex
// input as commonly reported by different scan sources.
func CanonicalMAC(mac string) string {
	cleaned := strings.ToLower(mac)
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	cleaned = strings.ReplaceAll(cleaned, ":", "")
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	if len(cleaned) != 12 {
		return strings.ToLower(mac)
	}
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(cleaned[i : i+2])
	}
	return b.String()
}

// CompositeDatabase prefers a gRPC-backed remote lookup and falls back to
// a local read-only cache when the remote client is unset or returns an
// error, so a single deployment can run with or without the external
// AP-database service configured.
type CompositeDatabase struct {
	Remote Database // optional
	Cache  Database // optional
}

func (c *CompositeDatabase) FindByMac(mac string) (wifiloc.WifiAccessPoint, bool, error) {
	mac = CanonicalMAC(mac)
	if c.Remote != nil {
		if ap, ok, err := c.Remote.FindByMac(mac); err == nil {
			if ok {
				return ap, true, nil
			}
		}
	}
	if c.Cache != nil {
		return c.Cache.FindByMac(mac)
	}
	return wifiloc.WifiAccessPoint{}, false, nil
}

func (c *CompositeDatabase) FindByMacs(macs []string) (map[string]wifiloc.WifiAccessPoint, error) {
	canon := make([]string, len(macs))
	for i, m := range macs {
		canon[i] = CanonicalMAC(m)
	}

	result := make(map[string]wifiloc.WifiAccessPoint, len(canon))
	if c.Remote != nil {
		if found, err := c.Remote.FindByMacs(canon); err == nil {
			for mac, ap := range found {
				result[mac] = ap
			}
		}
	}

	if c.Cache != nil {
		missing := make([]string, 0, len(canon))
		for _, mac := range canon {
			if _, ok := result[mac]; !ok {
				missing = append(missing, mac)
			}
		}
		if len(missing) > 0 {
			found, err := c.Cache.FindByMacs(missing)
			if err != nil {
				return result, err
			}
			for mac, ap := range found {
				result[mac] = ap
			}
		}
	}

	return result, nil
}

// Close releases both the remote and cache collaborators, if they
// support closing.
func (c *CompositeDatabase) Close() error {
	var firstErr error
	if closer, ok := c.Remote.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			firstErr = err
		}
	}
	if closer, ok := c.Cache.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
