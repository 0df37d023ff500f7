package printers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tzi-shue/print-service-deploy/agent/spooler"
	"github.com/tzi-shue/print-service-deploy/agent/storage"
)

type stubProber map[string]bool

func (s stubProber) Reachable(ctx context.Context, uri string) bool { return s[uri] }

func TestInventoryList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := spooler.NewFake()
	fake.AddQueue("Laser", "usb://HP/LaserJet%201020", "HP LaserJet 1020")
	fake.AddQueue("Office", "ipp://10.0.0.5/ipp/print", "IPP Everywhere")
	stopped := fake.AddQueue("Stopped", "socket://10.0.0.6:9100", "Raw Queue")
	stopped.Enabled = false
	fake.SetDefault("Office")

	store := newTestStore(t)
	require.NoError(t, store.MarkInstalled(ctx, "Office", "ipp://10.0.0.5/ipp/print", "everywhere"))

	inv := NewInventory(InventoryOptions{Subsystem: fake, Sources: store})
	recs := inv.List(ctx)
	require.Len(t, recs, 3)

	byName := make(map[string]Record)
	for _, r := range recs {
		byName[r.Name] = r
	}
	assert.Equal(t, Record{
		Name: "Office", DisplayName: "Office", URI: "ipp://10.0.0.5/ipp/print", Driver: "IPP Everywhere",
		IsDefault: true, Status: StatusReady, Source: storage.SourceAgent,
	}, byName["Office"])
	assert.Equal(t, storage.SourceManual, byName["Laser"].Source)
	assert.False(t, byName["Laser"].IsDefault)
	assert.Equal(t, StatusError, byName["Stopped"].Status)
}

func TestInventoryProbeMarksUnreachable(t *testing.T) {
	t.Parallel()

	fake := spooler.NewFake()
	fake.AddQueue("Up", "ipp://10.0.0.1/ipp", "x")
	fake.AddQueue("Down", "ipp://10.0.0.2/ipp", "x")
	fake.AddQueue("Usb", "usb://A/B", "x")

	inv := NewInventory(InventoryOptions{
		Subsystem: fake,
		Prober:    stubProber{"ipp://10.0.0.1/ipp": true},
	})
	status := make(map[string]string)
	for _, r := range inv.List(context.Background()) {
		status[r.Name] = r.Status
	}
	assert.Equal(t, map[string]string{"Up": StatusReady, "Down": StatusError, "Usb": StatusReady}, status)
}

func TestInventoryDegradesToDescriptorScan(t *testing.T) {
	t.Parallel()

	fake := spooler.NewFake()
	fake.AddQueue("OnlyPPD", "", "Generic")
	fake.SetListingError(errors.New("lpstat: scheduler is not running"))

	inv := NewInventory(InventoryOptions{Subsystem: fake})
	recs := inv.List(context.Background())
	require.Len(t, recs, 1)
	assert.Equal(t, "OnlyPPD", recs[0].Name)
	assert.Equal(t, StatusReady, recs[0].Status)
	assert.Equal(t, []string{"OnlyPPD"}, inv.Names(context.Background()))
}

func TestInventoryEmpty(t *testing.T) {
	t.Parallel()

	inv := NewInventory(InventoryOptions{Subsystem: spooler.NewFake()})
	recs := inv.List(context.Background())
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

type fakeSNMPClient struct {
	connectErr error
	status     int
}

func (c *fakeSNMPClient) Connect() error { return c.connectErr }
func (c *fakeSNMPClient) Close() error   { return nil }
func (c *fakeSNMPClient) Get(oids []string) (*gosnmp.SnmpPacket, error) {
	return &gosnmp.SnmpPacket{Variables: []gosnmp.SnmpPDU{
		{Name: "." + oidHrDeviceStatus, Type: gosnmp.Integer, Value: c.status},
	}}, nil
}

func TestSNMPProberReachable(t *testing.T) {
	orig := NewSNMPClientFunc
	t.Cleanup(func() { NewSNMPClientFunc = orig })

	clients := map[string]*fakeSNMPClient{
		"10.0.0.1": {status: 2},
		"10.0.0.2": {status: hrDeviceDown},
		"10.0.0.3": {connectErr: errors.New("no route")},
	}
	var seenCommunity string
	NewSNMPClientFunc = func(host, community string, timeout time.Duration) SNMPClient {
		seenCommunity = community
		return clients[host]
	}

	p := NewSNMPProber("", time.Second, nil)
	ctx := context.Background()
	assert.True(t, p.Reachable(ctx, "ipp://10.0.0.1/ipp/print"))
	assert.False(t, p.Reachable(ctx, "socket://10.0.0.2:9100"))
	assert.False(t, p.Reachable(ctx, "lpd://10.0.0.3/queue"))
	assert.True(t, p.Reachable(ctx, "not a uri"))
	assert.Equal(t, "public", seenCommunity)
}
