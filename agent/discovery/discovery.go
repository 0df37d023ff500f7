// Package discovery browses the local network for IPP printers announced
// over mDNS/DNS-SD.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// DefaultServices are the DNS-SD service types browsed by default.
var DefaultServices = []string{"_ipp._tcp", "_ipps._tcp"}

// Printer is one announced network printer.
type Printer struct {
	Instance string `json:"name"`
	Host     string `json:"host"`
	Address  string `json:"ip"`
	Port     int    `json:"port"`
	Service  string `json:"service"`
	Model    string `json:"model,omitempty"`
	URI      string `json:"uri"`
}

// Browser lists service entries of one type until ctx is done.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

type zeroconfBrowser struct{}

func (zeroconfBrowser) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mDNS resolver: %w", err)
	}
	return resolver.Browse(ctx, service, domain, entries)
}

// Logger interface for discovery
type Logger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

type nullLogger struct{}

func (nullLogger) Error(msg string, context ...interface{}) {}
func (nullLogger) Warn(msg string, context ...interface{})  {}
func (nullLogger) Info(msg string, context ...interface{})  {}
func (nullLogger) Debug(msg string, context ...interface{}) {}

// Options configures a Scanner.
type Options struct {
	Services []string
	Domain   string
	Timeout  time.Duration
	Browser  Browser
	Logger   Logger
}

// Scanner runs bounded DNS-SD browses.
type Scanner struct {
	services []string
	domain   string
	timeout  time.Duration
	browser  Browser
	logger   Logger
}

// New creates a Scanner.
func New(opts Options) *Scanner {
	s := &Scanner{
		services: opts.Services,
		domain:   opts.Domain,
		timeout:  opts.Timeout,
		browser:  opts.Browser,
		logger:   opts.Logger,
	}
	if len(s.services) == 0 {
		s.services = DefaultServices
	}
	if s.domain == "" {
		s.domain = "local."
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	if s.browser == nil {
		s.browser = zeroconfBrowser{}
	}
	if s.logger == nil {
		s.logger = nullLogger{}
	}
	return s
}

// Scan browses every service type in parallel for at most the configured
// timeout and returns the de-duplicated printers sorted by name.
func (s *Scanner) Scan(ctx context.Context) ([]Printer, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		found    = make(map[string]Printer)
		wg       sync.WaitGroup
		errCount int
		lastErr  error
	)
	for _, service := range s.services {
		service := service
		entries := make(chan *zeroconf.ServiceEntry)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case e, ok := <-entries:
					if !ok {
						return
					}
					p, ok := fromEntry(service, e)
					if !ok {
						continue
					}
					mu.Lock()
					if _, dup := found[p.URI]; !dup {
						found[p.URI] = p
						s.logger.Debug("Network printer found", "name", p.Instance, "uri", p.URI)
					}
					mu.Unlock()
				}
			}
		}()
		go func() {
			defer wg.Done()
			if err := s.browser.Browse(ctx, service, s.domain, entries); err != nil {
				s.logger.Warn("mDNS browse failed", "service", service, "error", err)
				mu.Lock()
				errCount++
				lastErr = err
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if errCount == len(s.services) && lastErr != nil {
		return nil, lastErr
	}

	out := make([]Printer, 0, len(found))
	for _, p := range found {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Instance != out[j].Instance {
			return out[i].Instance < out[j].Instance
		}
		return out[i].URI < out[j].URI
	})
	return out, nil
}

// fromEntry builds a Printer with an ipp(s):// URI from a service entry.
func fromEntry(service string, e *zeroconf.ServiceEntry) (Printer, bool) {
	if e == nil {
		return Printer{}, false
	}
	host := strings.TrimSuffix(e.HostName, ".")
	var addr string
	if len(e.AddrIPv4) > 0 {
		addr = e.AddrIPv4[0].String()
	}
	target := addr
	if target == "" {
		target = host
	}
	if target == "" {
		return Printer{}, false
	}

	txt := parseTXT(e.Text)
	resource := strings.TrimPrefix(txt["rp"], "/")
	if resource == "" {
		resource = "ipp/print"
	}
	scheme := "ipp"
	if strings.HasPrefix(service, "_ipps.") {
		scheme = "ipps"
	}
	port := e.Port
	if port == 0 {
		port = 631
	}

	return Printer{
		Instance: e.Instance,
		Host:     host,
		Address:  addr,
		Port:     port,
		Service:  service,
		Model:    txt["ty"],
		URI:      fmt.Sprintf("%s://%s/%s", scheme, net.JoinHostPort(target, strconv.Itoa(port)), resource),
	}, true
}

func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		out[strings.ToLower(k)] = v
	}
	return out
}
