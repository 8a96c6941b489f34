package ledm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// DeviceInfo describes a scan-capable device found on the local network.
type DeviceInfo struct {
	Name    string
	Model   string
	Host    string
	BaseURL string
}

// DiscoveryOptions configures device discovery.
type DiscoveryOptions struct {
	Timeout time.Duration
	Domain  string
}

// Discover browses mDNS for scan-capable devices until the timeout expires.
func Discover(ctx context.Context, opts DiscoveryOptions) ([]DeviceInfo, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Domain == "" {
		opts.Domain = "local."
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan []DeviceInfo)
	go func() {
		var found []DeviceInfo
		seen := map[string]bool{}
		for {
			select {
			case <-ctx.Done():
				done <- found
				return
			case entry, ok := <-entries:
				if !ok {
					done <- found
					return
				}
				info, ok := deviceFromEntry(entry)
				if !ok || seen[info.BaseURL] {
					continue
				}
				seen[info.BaseURL] = true
				slog.Info("found device", "name", info.Name, "model", info.Model, "url", info.BaseURL)
				found = append(found, info)
			}
		}
	}()

	slog.Debug("browsing mdns", "service", ServiceType, "domain", opts.Domain)
	if err := resolver.Browse(ctx, ServiceType, opts.Domain, entries); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	return <-done, nil
}

func deviceFromEntry(entry *zeroconf.ServiceEntry) (DeviceInfo, bool) {
	var ip net.IP
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0]
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0]
	}
	if ip == nil {
		return DeviceInfo{}, false
	}
	txt := parseTXT(entry.Text)

	// The webscan API lives on the embedded web server, not the eSCL port.
	port := 80
	if p, err := strconv.Atoi(txt["wsport"]); err == nil && p > 0 {
		port = p
	}
	host := ip.String()
	base := "http://" + net.JoinHostPort(host, strconv.Itoa(port))
	if port == 80 {
		base = "http://" + hostLiteral(ip)
	}
	return DeviceInfo{
		Name:    entry.Instance,
		Model:   txt["ty"],
		Host:    host,
		BaseURL: base,
	}, true
}

func hostLiteral(ip net.IP) string {
	if ip.To4() == nil {
		return "[" + ip.String() + "]"
	}
	return ip.String()
}

func parseTXT(records []string) map[string]string {
	m := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		m[strings.ToLower(k)] = v
	}
	return m
}

// LocalIP returns the local address used to reach target, falling back to
// "0.0.0.0" when no route exists. No packet is sent.
func LocalIP(target string) string {
	if target == "" {
		target = "224.0.0.1"
	}
	conn, err := net.Dial("udp", net.JoinHostPort(target, "80"))
	if err != nil {
		return "0.0.0.0"
	}
	defer conn.Close()
	addr := conn.LocalAddr().(*net.UDPAddr)
	return addr.IP.String()
}
