package printers

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

const (
	// hrDeviceStatus: 2=running 3=warning 5=down.
	oidHrDeviceStatus = "1.3.6.1.2.1.25.3.2.1.5.1"
	// hrPrinterStatus: 1=other 3=idle 4=printing 5=warmup.
	oidHrPrinterStatus = "1.3.6.1.2.1.25.3.5.1.1.1"

	hrDeviceDown = 5
)

// SNMPClient is the subset of gosnmp the prober uses.
type SNMPClient interface {
	Connect() error
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	Close() error
}

type gosnmpClient struct {
	conn *gosnmp.GoSNMP
}

func (c *gosnmpClient) Connect() error { return c.conn.Connect() }

func (c *gosnmpClient) Get(oids []string) (*gosnmp.SnmpPacket, error) {
	return c.conn.Get(oids)
}

func (c *gosnmpClient) Close() error {
	if c.conn.Conn == nil {
		return nil
	}
	return c.conn.Conn.Close()
}

// NewSNMPClientFunc builds the client used by SNMPProber. Tests replace it.
var NewSNMPClientFunc = func(host, community string, timeout time.Duration) SNMPClient {
	return &gosnmpClient{conn: &gosnmp.GoSNMP{
		Target:    host,
		Port:      161,
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   0,
	}}
}

// SNMPProber checks network printers with the host resources MIB.
type SNMPProber struct {
	Community string
	Timeout   time.Duration
	Logger    Logger
}

// NewSNMPProber creates a prober; an empty community means "public".
func NewSNMPProber(community string, timeout time.Duration, logger Logger) *SNMPProber {
	if community == "" {
		community = "public"
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = nullLogger{}
	}
	return &SNMPProber{Community: community, Timeout: timeout, Logger: logger}
}

// Reachable reports false when the printer does not answer or reports
// itself down. Hosts it cannot parse are assumed reachable.
func (p *SNMPProber) Reachable(ctx context.Context, uri string) bool {
	host := hostOf(uri)
	if host == "" {
		return true
	}
	if ctx.Err() != nil {
		return true
	}

	client := NewSNMPClientFunc(host, p.Community, p.Timeout)
	if err := client.Connect(); err != nil {
		p.Logger.Debug("SNMP connect failed", "host", host, "error", err)
		return false
	}
	defer client.Close()

	pkt, err := client.Get([]string{oidHrDeviceStatus, oidHrPrinterStatus})
	if err != nil {
		p.Logger.Debug("SNMP get failed", "host", host, "error", err)
		return false
	}
	for _, v := range pkt.Variables {
		if strings.TrimPrefix(v.Name, ".") != oidHrDeviceStatus {
			continue
		}
		if v.Type == gosnmp.Integer && gosnmp.ToBigInt(v.Value).Int64() == hrDeviceDown {
			return false
		}
	}
	return true
}

func hostOf(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
