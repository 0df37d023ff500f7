package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBrowser struct {
	entries map[string][]*zeroconf.ServiceEntry
	err     error
}

func (f fakeBrowser) Browse(ctx context.Context, service, domain string, out chan<- *zeroconf.ServiceEntry) error {
	if f.err != nil {
		return f.err
	}
	go func() {
		defer close(out)
		for _, e := range f.entries[service] {
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func entry(instance, host, ip string, port int, txt ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, "_ipp._tcp", "local.")
	e.HostName = host
	e.Port = port
	e.Text = txt
	if ip != "" {
		e.AddrIPv4 = []net.IP{net.ParseIP(ip)}
	}
	return e
}

func TestScan(t *testing.T) {
	t.Parallel()

	browser := fakeBrowser{entries: map[string][]*zeroconf.ServiceEntry{
		"_ipp._tcp": {
			entry("Office MFP", "mfp.local.", "192.168.1.20", 631, "rp=ipp/print", "ty=Brother MFC-L2710DW"),
			entry("Office MFP", "mfp.local.", "192.168.1.20", 631, "rp=ipp/print"),
			entry("Hostname Only", "laser.local.", "", 0),
		},
		"_ipps._tcp": {
			entry("Secure", "sec.local.", "192.168.1.30", 443, "rp=/printers/sec"),
		},
	}}

	s := New(Options{Browser: browser, Timeout: 200 * time.Millisecond})
	got, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "Hostname Only", got[0].Instance)
	assert.Equal(t, "ipp://laser.local:631/ipp/print", got[0].URI)

	assert.Equal(t, "Office MFP", got[1].Instance)
	assert.Equal(t, "ipp://192.168.1.20:631/ipp/print", got[1].URI)
	assert.Equal(t, "Brother MFC-L2710DW", got[1].Model)

	assert.Equal(t, "ipps://192.168.1.30:443/printers/sec", got[2].URI)
}

func TestScanAllBrowsesFail(t *testing.T) {
	t.Parallel()

	s := New(Options{Browser: fakeBrowser{err: errors.New("no multicast interface")}, Timeout: 50 * time.Millisecond})
	_, err := s.Scan(context.Background())
	assert.Error(t, err)
}

func TestScanHonorsTimeout(t *testing.T) {
	t.Parallel()

	block := blockingBrowser{}
	s := New(Options{Browser: block, Timeout: 50 * time.Millisecond})
	start := time.Now()
	got, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Less(t, time.Since(start), 2*time.Second)
}

type blockingBrowser struct{}

func (blockingBrowser) Browse(ctx context.Context, service, domain string, out chan<- *zeroconf.ServiceEntry) error {
	<-ctx.Done()
	return nil
}
