// Package discovery resolves the director's address by mDNS when no
// explicit --api-url is configured. A discovery reply may also carry
// configuration overrides the agent applies to itself.
//
// Grounded on github.com/miekg/dns (promoted from an indirect teacher
// dependency to direct use) for RFC 6762 query/response encoding.
package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/ironrun/provisiond/internal/log"
)

const (
	mdnsAddr    = "224.0.0.251:5353"
	serviceName = "_ironic-director._tcp.local."
)

// Result is what a successful mDNS lookup yields.
type Result struct {
	APIURL    string
	Overrides map[string]any
}

// Lookup sends one mDNS PTR query for the director's service name and
// waits up to timeout for a reply, parsing its SRV/TXT records into a
// Result. Returns an error if no reply arrives in time.
func Lookup(ctx context.Context, timeout time.Duration) (*Result, error) {
	logger := log.WithComponent("discovery")

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("open mdns socket: %w", err)
	}
	defer conn.Close()

	dst, err := net.ResolveUDPAddr("udp4", mdnsAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve mdns multicast address: %w", err)
	}

	query := new(dns.Msg)
	query.SetQuestion(serviceName, dns.TypePTR)
	packed, err := query.Pack()
	if err != nil {
		return nil, fmt.Errorf("pack mdns query: %w", err)
	}

	if _, err := conn.WriteTo(packed, dst); err != nil {
		return nil, fmt.Errorf("send mdns query: %w", err)
	}

	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if dl, ok := deadline.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	}

	buf := make([]byte, 65535)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		return nil, fmt.Errorf("no mdns reply within %s: %w", timeout, err)
	}

	reply := new(dns.Msg)
	if err := reply.Unpack(buf[:n]); err != nil {
		return nil, fmt.Errorf("unpack mdns reply: %w", err)
	}

	result, err := parseReply(reply)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("api_url", result.APIURL).Msg("director discovered via mdns")
	return result, nil
}

func parseReply(msg *dns.Msg) (*Result, error) {
	var host string
	var port uint16
	overrides := make(map[string]any)

	for _, rr := range msg.Answer {
		switch rec := rr.(type) {
		case *dns.SRV:
			host = rec.Target
			port = rec.Port
		case *dns.TXT:
			for _, kv := range rec.Txt {
				k, v := splitKV(kv)
				if k != "" {
					overrides[k] = v
				}
			}
		}
	}
	for _, rr := range msg.Extra {
		switch rec := rr.(type) {
		case *dns.SRV:
			if host == "" {
				host = rec.Target
				port = rec.Port
			}
		case *dns.TXT:
			for _, kv := range rec.Txt {
				k, v := splitKV(kv)
				if k != "" {
					overrides[k] = v
				}
			}
		}
	}

	if host == "" || port == 0 {
		return nil, fmt.Errorf("mdns reply carried no usable SRV record")
	}

	return &Result{
		APIURL:    fmt.Sprintf("https://%s:%d", trimTrailingDot(host), port),
		Overrides: overrides,
	}, nil
}

func splitKV(s string) (string, string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:]
		}
	}
	return "", ""
}

func trimTrailingDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}
