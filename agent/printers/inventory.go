package printers

import (
	"context"

	"github.com/tzi-shue/print-service-deploy/agent/spooler"
	"github.com/tzi-shue/print-service-deploy/agent/storage"
)

// StatusProber reports whether a network printer answers.
type StatusProber interface {
	Reachable(ctx context.Context, uri string) bool
}

// InventoryOptions configures an Inventory.
type InventoryOptions struct {
	Subsystem spooler.Subsystem
	Sources   SourceLookup
	Prober    StatusProber
	Logger    Logger
}

// Inventory lists the queues configured on the host.
type Inventory struct {
	sub     spooler.Subsystem
	sources SourceLookup
	prober  StatusProber
	logger  Logger
}

// NewInventory creates an Inventory. Sources and Prober are optional.
func NewInventory(opts InventoryOptions) *Inventory {
	logger := opts.Logger
	if logger == nil {
		logger = nullLogger{}
	}
	return &Inventory{
		sub:     opts.Subsystem,
		sources: opts.Sources,
		prober:  opts.Prober,
		logger:  logger,
	}
}

// List returns every known queue. Listing failures degrade to fewer (or
// no) records and are only logged.
func (inv *Inventory) List(ctx context.Context) []Record {
	names := inv.queueNames(ctx)

	statuses := make(map[string]spooler.QueueStatus)
	if qs, err := inv.sub.Queues(ctx); err != nil {
		inv.logger.Debug("Queue status listing failed", "error", err)
	} else {
		for _, q := range qs {
			statuses[q.Name] = q
		}
	}

	uris := make(map[string]string)
	if pairs, err := inv.sub.DeviceURIs(ctx); err != nil {
		inv.logger.Debug("Device URI listing failed", "error", err)
	} else {
		seen := make(map[string]bool, len(names))
		for _, n := range names {
			seen[n] = true
		}
		for _, p := range pairs {
			uris[p.Name] = p.URI
			if !seen[p.Name] {
				seen[p.Name] = true
				names = append(names, p.Name)
			}
		}
	}

	defaultQueue, err := inv.sub.DefaultQueue(ctx)
	if err != nil {
		inv.logger.Debug("Default destination lookup failed", "error", err)
	}

	var sources map[string]string
	if inv.sources != nil {
		if sources, err = inv.sources.Sources(ctx); err != nil {
			inv.logger.Warn("Provenance lookup failed", "error", err)
		}
	}

	records := make([]Record, 0, len(names))
	for _, name := range names {
		rec := Record{
			Name:        name,
			DisplayName: name,
			URI:         uris[name],
			Driver:      inv.sub.DriverName(ctx, name),
			IsDefault:   name == defaultQueue,
			Status:      StatusReady,
			Source:      storage.SourceManual,
		}
		if st, ok := statuses[name]; ok && !st.Enabled {
			rec.Status = StatusError
		}
		if src, ok := sources[name]; ok && src != "" {
			rec.Source = src
		}
		if rec.Status == StatusReady && inv.prober != nil && spooler.ClassifyURI(rec.URI) == spooler.PrinterTypeNetwork {
			if !inv.prober.Reachable(ctx, rec.URI) {
				inv.logger.Debug("Network printer unreachable", "printer", name, "uri", rec.URI)
				rec.Status = StatusError
			}
		}
		records = append(records, rec)
	}
	return records
}

// Names returns only the queue names.
func (inv *Inventory) Names(ctx context.Context) []string {
	recs := inv.List(ctx)
	names := make([]string, len(recs))
	for i, r := range recs {
		names[i] = r.Name
	}
	return names
}

// queueNames walks the listing fallbacks: accepting queues, then every queue
// with a status line, then installed descriptors.
func (inv *Inventory) queueNames(ctx context.Context) []string {
	if names, err := inv.sub.AcceptingQueues(ctx); err == nil && len(names) > 0 {
		return names
	} else if err != nil {
		inv.logger.Debug("Accepting queue listing failed", "error", err)
	}

	if qs, err := inv.sub.Queues(ctx); err == nil && len(qs) > 0 {
		names := make([]string, len(qs))
		for i, q := range qs {
			names[i] = q.Name
		}
		return names
	}

	names, err := inv.sub.QueueDescriptors(ctx)
	if err != nil {
		inv.logger.Debug("Descriptor scan failed", "error", err)
		return nil
	}
	return names
}
