package agent

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/tzi-shue/print-service-deploy/agent/autoupdate"
	"github.com/tzi-shue/print-service-deploy/agent/printers"
	"github.com/tzi-shue/print-service-deploy/agent/printjob"
	"github.com/tzi-shue/print-service-deploy/agent/spooler"
	"github.com/tzi-shue/print-service-deploy/agent/storage"
	"github.com/tzi-shue/print-service-deploy/common/util"
	"github.com/tzi-shue/print-service-deploy/common/ws"
)

const (
	defaultLogLines = 100
	maxLogLines     = 1000
)

func (a *Agent) routes() {
	r := a.router
	r.Ignore(ws.ActionHeartbeatAck, ws.ActionPong)
	r.Handle(ws.ActionRegistered, a.handleRegistered)
	r.Handle(ws.ActionRegisterOK, a.handleRegistered)
	r.Handle(ws.ActionError, a.handleServerError)
	r.Handle(ws.ActionBind, a.handleBind)

	r.Handle(ws.ActionDetectUSB, a.handleDetectUSB)
	r.Handle(ws.ActionAddPrinter, a.handleAddPrinter)
	r.Handle(ws.ActionRemovePrinter, a.handleRemovePrinter)
	r.Handle(ws.ActionChangeDriver, a.handleChangeDriver)
	r.Handle(ws.ActionRefreshPrinters, a.handleRefreshPrinters)
	r.Handle(ws.ActionSyncCups, a.handleSyncCups)
	r.Handle(ws.ActionDiscoverNetwork, a.handleDiscoverNetwork)

	r.Handle(ws.ActionPrint, a.handlePrint)
	r.Handle(ws.ActionTestPrint, a.handleTestPrint)
	r.Handle(ws.ActionGetCupsJobs, a.handleCupsJobs)
	r.Handle(ws.ActionCancelCupsJob, a.handleCancelJob)

	r.Handle(ws.ActionUpgrade, a.handleUpgrade)
	r.Handle(ws.ActionGetVersion, a.handleGetVersion)
	r.Handle(ws.ActionGetLogs, a.handleGetLogs)
	r.Handle(ws.ActionGetLogDates, a.handleGetLogDates)
	r.Handle(ws.ActionGetDeviceStatus, a.handleDeviceStatus)
	r.Handle(ws.ActionCleanTempFiles, a.handleCleanTemp)
	r.Handle(ws.ActionReboot, a.handleReboot)
	r.Handle(ws.ActionRestartService, a.handleRestartService)
}

func failure(req ws.Message, action, message string, kv ...interface{}) ws.Message {
	out := req.Reply(action, kv...)
	out["success"] = false
	out["message"] = message
	return out
}

func (a *Agent) listPrinters(ctx context.Context) []printers.Record {
	recs := a.opts.Inventory.List(ctx)
	a.opts.Metrics.SetPrinters(len(recs))
	return recs
}

func (a *Agent) printerList(ctx context.Context) ws.Message {
	return ws.New(ws.ActionPrinterList, "printers", a.listPrinters(ctx))
}

func (a *Agent) handleRegistered(ctx context.Context, msg ws.Message) []ws.Message {
	a.logger.Info("Registration acknowledged by server")
	return nil
}

func (a *Agent) handleServerError(ctx context.Context, msg ws.Message) []ws.Message {
	a.logger.Warn("Server reported an error", "message", msg.String("message"))
	return nil
}

// handleBind stores the openid the device was bound to and registers again
// so the server sees the binding. An empty openid unbinds.
func (a *Agent) handleBind(ctx context.Context, msg ws.Message) []ws.Message {
	openid := strings.TrimSpace(msg.String("openid"))
	if err := a.opts.Store.SetOpenID(ctx, openid); err != nil {
		a.logger.Error("Failed to persist openid", "error", err)
	}
	if openid == "" {
		a.logger.Info("Device unbound")
	} else {
		a.logger.Info("Device bound", "openid", openid)
	}
	return []ws.Message{a.registerMessage(ctx)}
}

func (a *Agent) handleDetectUSB(ctx context.Context, msg ws.Message) []ws.Message {
	res := a.opts.Matcher.Detect(ctx)
	return []ws.Message{msg.Reply(ws.ActionDetectResult,
		"success", true,
		"usb_devices", res.Devices,
		"drivers", res.Drivers,
	)}
}

func (a *Agent) handleAddPrinter(ctx context.Context, msg ws.Message) []ws.Message {
	name := msg.FirstString("name", "printer_name")
	if name == "" {
		name = "Printer"
	}
	uri := msg.String("uri")
	driver := msg.String("driver")
	if driver == "" {
		driver = printers.DriverEverywhere
	}

	res := a.opts.Provisioner.Install(ctx, name, uri, driver)
	reply := msg.Reply(ws.ActionAddPrinterResult,
		"success", res.Success,
		"message", res.Message,
		"printer_name", res.Name,
		"driver", res.Driver,
	)

	list := a.listPrinters(ctx)
	if res.Success {
		for i := range list {
			if list[i].Name == res.Name && list[i].URI == "" {
				list[i].URI = uri
			}
		}
	}
	return []ws.Message{reply, ws.New(ws.ActionPrinterList, "printers", list)}
}

func (a *Agent) handleRemovePrinter(ctx context.Context, msg ws.Message) []ws.Message {
	res := a.opts.Provisioner.Remove(ctx, msg.FirstString("name", "printer_name"))
	return []ws.Message{
		msg.Reply(ws.ActionRemovePrinterResult, "success", res.Success, "message", res.Message),
		a.printerList(ctx),
	}
}

func (a *Agent) handleChangeDriver(ctx context.Context, msg ws.Message) []ws.Message {
	driver := msg.String("driver")
	if driver == "" {
		driver = printers.DriverEverywhere
	}
	res := a.opts.Provisioner.ChangeDriver(ctx, msg.FirstString("printer_name", "name"), driver)
	return []ws.Message{
		msg.Reply(ws.ActionChangeDriverResult, "success", res.Success, "message", res.Message),
		a.printerList(ctx),
	}
}

func (a *Agent) handleRefreshPrinters(ctx context.Context, msg ws.Message) []ws.Message {
	out := a.printerList(ctx)
	if id, ok := msg.RequestID(); ok {
		out["request_id"] = id
	}
	return []ws.Message{out}
}

// handleSyncCups drops provenance of queues removed outside the agent and
// answers with the full inventory.
func (a *Agent) handleSyncCups(ctx context.Context, msg ws.Message) []ws.Message {
	list := a.listPrinters(ctx)
	names := make([]string, len(list))
	for i, r := range list {
		names[i] = r.Name
	}
	removed, err := a.opts.Store.Reconcile(ctx, names)
	if err != nil {
		return []ws.Message{failure(msg, ws.ActionSyncCupsResult, "sync failed: "+err.Error(), "printers", list)}
	}
	if removed == nil {
		removed = []string{}
	}
	return []ws.Message{msg.Reply(ws.ActionSyncCupsResult,
		"success", true,
		"message", fmt.Sprintf("%d printers synchronized", len(list)),
		"printers", list,
		"removed", removed,
	)}
}

func (a *Agent) handleDiscoverNetwork(ctx context.Context, msg ws.Message) []ws.Message {
	if a.opts.Scanner == nil {
		return []ws.Message{failure(msg, ws.ActionDiscoverResult, "network discovery is disabled")}
	}
	found, err := a.opts.Scanner.Scan(ctx)
	if err != nil {
		return []ws.Message{failure(msg, ws.ActionDiscoverResult, "discovery failed: "+err.Error())}
	}
	return []ws.Message{msg.Reply(ws.ActionDiscoverResult,
		"success", true,
		"message", fmt.Sprintf("%d printers found", len(found)),
		"printers", found,
	)}
}

// printJob builds a job from a print command. Field aliases of older
// servers are accepted.
func (a *Agent) printJob(ctx context.Context, msg ws.Message) (printjob.Job, error) {
	job := printjob.Job{
		TaskID:      msg.FirstString("task_id", "job_id"),
		Printer:     msg.FirstString("printer", "printer_name"),
		Filename:    msg.FirstString("filename", "file_name"),
		Ext:         msg.String("file_ext"),
		Copies:      msg.Int("copies", 1),
		PageFrom:    msg.Int("page_from", 0),
		PageTo:      msg.Int("page_to", 0),
		ColorMode:   msg.String("color_mode"),
		Orientation: msg.String("orientation"),
	}

	if raw := msg.String("file_content"); raw != "" {
		content, err := printjob.DecodeContent(raw)
		if err != nil {
			return job, fmt.Errorf("invalid file content: %w", err)
		}
		job.Content = content
	} else if fileURL := msg.String("file_url"); fileURL != "" {
		content, name, err := a.opts.Fetcher.Fetch(ctx, fileURL)
		if err != nil {
			return job, err
		}
		job.Content = content
		if job.Filename == "" {
			job.Filename = name
		}
	}

	if job.Filename == "" {
		job.Filename = "document"
	}
	if job.Extension() == "" {
		job.Ext = "pdf"
	}
	return job, nil
}

func (a *Agent) handlePrint(ctx context.Context, msg ws.Message) []ws.Message {
	job, err := a.printJob(ctx, msg)
	var res printjob.Result
	if err != nil {
		res = printjob.Result{Message: err.Error()}
	} else {
		res = a.opts.Pipeline.Execute(ctx, job)
	}
	a.opts.Metrics.PrintJob(res.Success)

	rec := storage.PrintRecord{
		TaskID:   job.TaskID,
		Printer:  job.Printer,
		Filename: job.Filename,
		Ext:      job.Extension(),
		Copies:   printjob.ClampCopies(job.Copies),
		Success:  res.Success,
		Message:  res.Message,
		JobID:    res.JobID,
	}
	if err := a.opts.Store.RecordPrint(ctx, rec); err != nil {
		a.logger.Warn("Failed to record print history", "task_id", job.TaskID, "error", err)
	}

	return []ws.Message{msg.Reply(ws.ActionPrintResult,
		"task_id", job.TaskID,
		"job_id", job.TaskID,
		"cups_job_id", res.JobID,
		"success", res.Success,
		"message", res.Message,
	)}
}

func (a *Agent) handleTestPrint(ctx context.Context, msg ws.Message) []ws.Message {
	res := a.opts.Pipeline.TestPage(ctx, msg.FirstString("printer", "printer_name"), a.opts.DeviceID.String())
	return []ws.Message{msg.Reply(ws.ActionTestPrintResult,
		"success", res.Success,
		"message", res.Message,
		"cups_job_id", res.JobID,
	)}
}

func (a *Agent) handleCupsJobs(ctx context.Context, msg ws.Message) []ws.Message {
	jobs, err := a.opts.Subsystem.Jobs(ctx)
	if err != nil {
		return []ws.Message{failure(msg, ws.ActionCupsJobsResult, "failed to list jobs: "+err.Error())}
	}
	if printer := msg.FirstString("printer", "printer_name"); printer != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if j.Printer == printer {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	if jobs == nil {
		jobs = []spooler.Job{}
	}
	return []ws.Message{msg.Reply(ws.ActionCupsJobsResult, "success", true, "jobs", jobs, "count", len(jobs))}
}

func (a *Agent) handleCancelJob(ctx context.Context, msg ws.Message) []ws.Message {
	id := msg.FirstString("job_id", "cups_job_id")
	if id == "" {
		return []ws.Message{failure(msg, ws.ActionCancelJobResult, "job id is required")}
	}
	if err := a.opts.Subsystem.CancelJob(ctx, id); err != nil {
		return []ws.Message{failure(msg, ws.ActionCancelJobResult, "cancel failed: "+err.Error(), "job_id", id)}
	}
	return []ws.Message{msg.Reply(ws.ActionCancelJobResult,
		"success", true,
		"message", "job "+id+" cancelled",
		"job_id", id,
	)}
}

func (a *Agent) handleUpgrade(ctx context.Context, msg ws.Message) []ws.Message {
	if a.opts.Updater == nil {
		return []ws.Message{failure(msg, ws.ActionUpgradeResult, "upgrades are disabled")}
	}
	url := msg.FirstString("download_url", "url")
	if url == "" {
		return []ws.Message{failure(msg, ws.ActionUpgradeResult, "download URL is empty")}
	}
	res := a.opts.Updater.Apply(ctx, autoupdate.Request{
		URL:     url,
		SHA256:  msg.FirstString("sha256", "file_hash"),
		Version: msg.String("version"),
		Force:   msg.Bool("force"),
	})
	return []ws.Message{msg.Reply(ws.ActionUpgradeResult,
		"success", res.Success,
		"message", res.Message,
		"error_code", res.ErrorCode,
		"previous_version", res.PreviousVersion,
		"new_version", res.NewVersion,
	)}
}

func (a *Agent) handleGetVersion(ctx context.Context, msg ws.Message) []ws.Message {
	if a.opts.Updater == nil {
		return []ws.Message{msg.Reply(ws.ActionVersionInfo, "data", autoupdate.VersionInfo{Version: a.opts.Version})}
	}
	info, err := a.opts.Updater.Info()
	if err != nil {
		a.logger.Warn("Could not inspect running binary", "error", err)
		info.Version = a.opts.Version
	}
	return []ws.Message{msg.Reply(ws.ActionVersionInfo, "data", info)}
}

func (a *Agent) handleGetLogs(ctx context.Context, msg ws.Message) []ws.Message {
	if a.opts.Logs == nil {
		return []ws.Message{failure(msg, ws.ActionLogsResult, "log files are not available")}
	}
	date := msg.String("date")
	n := msg.Int("lines", defaultLogLines)
	if n <= 0 {
		n = defaultLogLines
	}
	if n > maxLogLines {
		n = maxLogLines
	}
	lines, err := a.opts.Logs.Tail(date, n)
	if err != nil {
		return []ws.Message{failure(msg, ws.ActionLogsResult, err.Error(), "date", date)}
	}
	if lines == nil {
		lines = []string{}
	}
	return []ws.Message{msg.Reply(ws.ActionLogsResult,
		"success", true,
		"date", date,
		"lines", lines,
		"content", strings.Join(lines, "\n"),
	)}
}

func (a *Agent) handleGetLogDates(ctx context.Context, msg ws.Message) []ws.Message {
	if a.opts.Logs == nil {
		return []ws.Message{failure(msg, ws.ActionLogDatesResult, "log files are not available")}
	}
	dates, err := a.opts.Logs.Dates()
	if err != nil {
		return []ws.Message{failure(msg, ws.ActionLogDatesResult, err.Error())}
	}
	if dates == nil {
		dates = []string{}
	}
	return []ws.Message{msg.Reply(ws.ActionLogDatesResult, "success", true, "dates", dates)}
}

func (a *Agent) handleDeviceStatus(ctx context.Context, msg ws.Message) []ws.Message {
	status := map[string]interface{}{
		"device_id":       a.opts.DeviceID.String(),
		"version":         a.opts.Version,
		"hostname":        a.sysinfo.Hostname,
		"os_info":         a.sysinfo.String(),
		"arch":            runtime.GOARCH,
		"num_cpu":         a.sysinfo.NumCPU,
		"ip_address":      util.LocalIP(),
		"cups_running":    a.opts.Subsystem.SchedulerRunning(ctx),
		"printer_count":   len(a.listPrinters(ctx)),
		"agent_uptime":    int64(a.now().Sub(a.started).Seconds()),
		"goroutines":      runtime.NumGoroutine(),
		"queued_commands": len(a.tasks),
	}

	if up, load, err := util.Uptime(); err == nil {
		status["uptime_seconds"] = int64(up.Seconds())
		status["load_average"] = load
	}
	if a.opts.DataDir != "" {
		if disk, err := util.DiskUsage(a.opts.DataDir); err == nil {
			status["disk"] = disk
			status["disk_used_percent"] = disk.UsedPercent()
		}
	}
	if stats, err := a.opts.Store.Stats(ctx); err == nil {
		status["print_stats"] = stats
	} else {
		a.logger.Warn("Print statistics unavailable", "error", err)
	}
	a.mu.Lock()
	if !a.connectedAt.IsZero() {
		status["connected_since"] = a.connectedAt.Format(time.RFC3339)
	}
	a.mu.Unlock()

	return []ws.Message{msg.Reply(ws.ActionDeviceStatusResult, "success", true, "data", status)}
}

func (a *Agent) handleCleanTemp(ctx context.Context, msg ws.Message) []ws.Message {
	if a.opts.Cleaner == nil {
		return []ws.Message{failure(msg, ws.ActionCleanTempResult, "temp cleanup is not configured")}
	}
	rep := a.opts.Cleaner.CleanTemp(0)
	a.logger.Info("Temp files cleaned on request", "files", rep.FilesRemoved, "bytes", rep.BytesFreed)
	return []ws.Message{msg.Reply(ws.ActionCleanTempResult,
		"success", true,
		"message", fmt.Sprintf("%d files removed", rep.FilesRemoved),
		"files_removed", rep.FilesRemoved,
		"bytes_freed", rep.BytesFreed,
	)}
}

func (a *Agent) handleReboot(ctx context.Context, msg ws.Message) []ws.Message {
	return a.delayedSystemAction(msg, ws.ActionRebootResult, "reboot", func(sys SystemControl) error {
		return sys.Reboot(context.Background())
	})
}

func (a *Agent) handleRestartService(ctx context.Context, msg ws.Message) []ws.Message {
	return a.delayedSystemAction(msg, ws.ActionRestartServiceResult, "service restart", func(sys SystemControl) error {
		return sys.RestartService(context.Background())
	})
}

// delayedSystemAction answers first and acts after ActionDelay so the
// answer can leave the socket.
func (a *Agent) delayedSystemAction(msg ws.Message, result, what string, act func(SystemControl) error) []ws.Message {
	if a.opts.System == nil {
		return []ws.Message{failure(msg, result, what+" is not supported")}
	}
	sys := a.opts.System
	delay := a.opts.ActionDelay
	a.after(delay, func() {
		a.logger.Info("Executing "+what, "delay", delay.String())
		if err := act(sys); err != nil {
			a.logger.Error(what+" failed", "error", err)
		}
	})
	return []ws.Message{msg.Reply(result,
		"success", true,
		"message", fmt.Sprintf("%s in %d seconds", what, int(delay.Seconds())),
	)}
}
