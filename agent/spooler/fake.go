package spooler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var errNoQueue = errors.New("the printer or class does not exist")

// FakeQueue is a queue held by Fake.
type FakeQueue struct {
	URI      string
	Model    string
	Enabled  bool
	Accepts  bool
	HasPPD   bool
	Driver   string
	Printing bool
}

// Submission records one Submit call. Content is the spooled file as it
// was at submit time.
type Submission struct {
	Queue   string
	File    string
	Copies  int
	Options []string
	Content []byte
	JobID   string
}

// Fake is an in-memory Subsystem for tests.
type Fake struct {
	mu sync.Mutex

	queues     map[string]*FakeQueue
	defaultQ   string
	devices    []Device
	models     []Model
	jobs       []Job
	nextJob    int
	scheduler  bool
	calls      []string
	submitted  []Submission
	listingErr error

	// InstallErrors fails InstallQueue for the given model.
	InstallErrors map[string]error
	// Phantom models make InstallQueue succeed without creating the queue.
	Phantom map[string]bool
	// DriverlessPPD is written by GenerateDriverlessPPD; empty means failure.
	DriverlessPPD string
	SubmitErr     error
}

// NewFake returns an empty Fake with a running scheduler.
func NewFake() *Fake {
	return &Fake{
		queues:        make(map[string]*FakeQueue),
		InstallErrors: make(map[string]error),
		Phantom:       make(map[string]bool),
		scheduler:     true,
		nextJob:       1,
	}
}

// AddQueue seeds a ready queue.
func (f *Fake) AddQueue(name, uri, driver string) *FakeQueue {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := &FakeQueue{URI: uri, Enabled: true, Accepts: true, HasPPD: true, Driver: driver}
	f.queues[name] = q
	return q
}

// Queue returns a copy of a queue and whether it exists.
func (f *Fake) Queue(name string) (FakeQueue, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queues[name]
	if !ok {
		return FakeQueue{}, false
	}
	return *q, true
}

// SetDefault sets the default destination.
func (f *Fake) SetDefault(name string) {
	f.mu.Lock()
	f.defaultQ = name
	f.mu.Unlock()
}

// SetDevices replaces the device list.
func (f *Fake) SetDevices(devices ...Device) {
	f.mu.Lock()
	f.devices = devices
	f.mu.Unlock()
}

// SetModels replaces the driver catalog.
func (f *Fake) SetModels(models ...Model) {
	f.mu.Lock()
	f.models = models
	f.mu.Unlock()
}

// SetListingError makes every listing call fail.
func (f *Fake) SetListingError(err error) {
	f.mu.Lock()
	f.listingErr = err
	f.mu.Unlock()
}

// SetScheduler sets the scheduler state.
func (f *Fake) SetScheduler(running bool) {
	f.mu.Lock()
	f.scheduler = running
	f.mu.Unlock()
}

// AddJob seeds a pending job.
func (f *Fake) AddJob(job Job) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
}

// Calls returns the recorded mutating calls, e.g. "install Q model".
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Submissions returns the recorded Submit calls.
func (f *Fake) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Submission(nil), f.submitted...)
}

func (f *Fake) record(format string, args ...interface{}) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *Fake) sortedNames(keep func(*FakeQueue) bool) []string {
	var names []string
	for name, q := range f.queues {
		if keep(q) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (f *Fake) AcceptingQueues(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listingErr != nil {
		return nil, f.listingErr
	}
	return f.sortedNames(func(q *FakeQueue) bool { return q.Accepts }), nil
}

func (f *Fake) Queues(ctx context.Context) ([]QueueStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listingErr != nil {
		return nil, f.listingErr
	}
	var out []QueueStatus
	for _, name := range f.sortedNames(func(*FakeQueue) bool { return true }) {
		q := f.queues[name]
		out = append(out, QueueStatus{Name: name, Enabled: q.Enabled, Printing: q.Printing})
	}
	return out, nil
}

func (f *Fake) QueueDescriptors(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedNames(func(q *FakeQueue) bool { return q.HasPPD }), nil
}

func (f *Fake) DefaultQueue(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listingErr != nil {
		return "", f.listingErr
	}
	return f.defaultQ, nil
}

func (f *Fake) DeviceURIs(ctx context.Context) ([]QueueURI, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listingErr != nil {
		return nil, f.listingErr
	}
	var out []QueueURI
	for _, name := range f.sortedNames(func(q *FakeQueue) bool { return q.URI != "" }) {
		out = append(out, QueueURI{Name: name, URI: f.queues[name].URI})
	}
	return out, nil
}

func (f *Fake) DriverName(ctx context.Context, queue string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.queues[queue]; ok {
		if q.Driver != "" {
			return q.Driver
		}
		return q.Model
	}
	return ""
}

func (f *Fake) QueueExists(ctx context.Context, queue string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.queues[queue]
	return ok
}

func (f *Fake) InstallQueue(ctx context.Context, queue, uri, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("install %s %s", queue, model)
	if err := f.InstallErrors[model]; err != nil {
		return err
	}
	if f.Phantom[model] {
		return nil
	}
	f.queues[queue] = &FakeQueue{URI: uri, Model: model, HasPPD: true}
	return nil
}

func (f *Fake) InstallQueuePPD(ctx context.Context, queue, uri, ppdPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("install-ppd %s", queue)
	if _, err := os.Stat(ppdPath); err != nil {
		return fmt.Errorf("lpadmin: %w", err)
	}
	f.queues[queue] = &FakeQueue{URI: uri, Model: "driverless", HasPPD: true}
	return nil
}

func (f *Fake) EnableQueue(ctx context.Context, queue string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("enable %s", queue)
	q, ok := f.queues[queue]
	if !ok {
		return fmt.Errorf("cupsenable: %s: no such queue", queue)
	}
	q.Enabled, q.Accepts = true, true
	return nil
}

func (f *Fake) RemoveQueue(ctx context.Context, queue string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove %s", queue)
	if _, ok := f.queues[queue]; !ok {
		return errNoQueue
	}
	delete(f.queues, queue)
	if f.defaultQ == queue {
		f.defaultQ = ""
	}
	return nil
}

func (f *Fake) SetQueueModel(ctx context.Context, queue, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("set-model %s %s", queue, model)
	q, ok := f.queues[queue]
	if !ok {
		return errNoQueue
	}
	if err := f.InstallErrors[model]; err != nil {
		return err
	}
	q.Model, q.Driver = model, ""
	return nil
}

func (f *Fake) SetQueuePPD(ctx context.Context, queue, ppdPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("set-ppd %s", queue)
	q, ok := f.queues[queue]
	if !ok {
		return errNoQueue
	}
	q.Model, q.Driver = "driverless", ""
	return nil
}

func (f *Fake) GenerateDriverlessPPD(ctx context.Context, uri, dest string) error {
	f.mu.Lock()
	ppd := f.DriverlessPPD
	f.record("driverless %s", uri)
	f.mu.Unlock()
	if ppd == "" {
		return fmt.Errorf("driverless: no PPD produced for %s", uri)
	}
	return os.WriteFile(dest, []byte(ppd), 0644)
}

func (f *Fake) ListDevices(ctx context.Context) ([]Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listingErr != nil {
		return nil, f.listingErr
	}
	return append([]Device(nil), f.devices...), nil
}

func (f *Fake) ListModels(ctx context.Context) ([]Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listingErr != nil {
		return nil, f.listingErr
	}
	return append([]Model(nil), f.models...), nil
}

func (f *Fake) Submit(ctx context.Context, queue, file string, copies int, options []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	if _, ok := f.queues[queue]; !ok {
		return "", errNoQueue
	}
	content, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("lp: %w", err)
	}
	id := queue + "-" + strconv.Itoa(f.nextJob)
	f.nextJob++
	f.submitted = append(f.submitted, Submission{
		Queue:   queue,
		File:    file,
		Copies:  copies,
		Options: append([]string(nil), options...),
		Content: content,
		JobID:   id,
	})
	f.jobs = append(f.jobs, Job{ID: id, Printer: queue, User: "agent", Size: int64(len(content))})
	return id, nil
}

func (f *Fake) Jobs(ctx context.Context) ([]Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Job(nil), f.jobs...), nil
}

func (f *Fake) CancelJob(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("cancel %s", id)
	for i, job := range f.jobs {
		if job.ID == id || strings.HasSuffix(job.ID, "-"+id) {
			f.jobs = append(f.jobs[:i], f.jobs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("cancel: job %s not found", id)
}

func (f *Fake) SchedulerRunning(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scheduler
}

var (
	_ Subsystem = (*Fake)(nil)
	_ Subsystem = (*CUPS)(nil)
)
