package spooler

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseAccepting(t *testing.T) {
	t.Parallel()

	out := "HP_LaserJet accepting requests since Mon 01 Jan 2024\n" +
		"Broken not accepting requests since Mon 01 Jan 2024 -\n\tRejecting Jobs\n" +
		"Canon 接受请求自 2024年01月01日\n"
	got := parseAccepting(out)
	want := []string{"HP_LaserJet", "Canon"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseAccepting() = %v, want %v", got, want)
	}
}

func TestParseQueues(t *testing.T) {
	t.Parallel()

	out := "printer HP is idle.  enabled since Mon 01 Jan 2024\n" +
		"printer Brother now printing Brother-12.  enabled since Mon\n" +
		"printer Old disabled since Mon 01 Jan 2024 -\n\treason unknown\n" +
		"打印机 Canon 已禁用\n"
	got := parseQueues(out)
	if len(got) != 4 {
		t.Fatalf("expected 4 queues, got %d: %+v", len(got), got)
	}
	if !got[0].Enabled || got[0].Printing {
		t.Errorf("HP should be idle and enabled: %+v", got[0])
	}
	if !got[1].Printing {
		t.Errorf("Brother should be printing: %+v", got[1])
	}
	if got[2].Enabled || got[3].Enabled {
		t.Errorf("disabled queues reported enabled: %+v %+v", got[2], got[3])
	}
}

func TestParseDefaultAndDevices(t *testing.T) {
	t.Parallel()

	if got := parseDefault("system default destination: HP_LaserJet\n"); got != "HP_LaserJet" {
		t.Errorf("parseDefault = %q", got)
	}
	if got := parseDefault("no system default destination\n"); got != "" {
		t.Errorf("parseDefault without default = %q", got)
	}
	if got := parseDefault("系统默认目的地：Canon\n"); got != "Canon" {
		t.Errorf("parseDefault zh = %q", got)
	}

	out := "device for HP: usb://HP/LaserJet%20P1007?serial=ABC\n" +
		"Canon 的设备：ipp://192.168.1.20/ipp/print\n"
	got := parseDeviceURIs(out)
	want := []QueueURI{
		{Name: "HP", URI: "usb://HP/LaserJet%20P1007?serial=ABC"},
		{Name: "Canon", URI: "ipp://192.168.1.20/ipp/print"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseDeviceURIs() = %+v, want %+v", got, want)
	}
}

func TestParseJobsAndRequestID(t *testing.T) {
	t.Parallel()

	jobs := parseJobs("Office-42  root  10240  Mon 01 Jan 2024 10:00:00 AM CST\nnoise\n")
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %+v", jobs)
	}
	if jobs[0].ID != "Office-42" || jobs[0].Printer != "Office" || jobs[0].Size != 10240 || jobs[0].User != "root" {
		t.Errorf("unexpected job %+v", jobs[0])
	}

	if got := ParseRequestID("request id is Office-43 (1 file(s))\n"); got != "Office-43" {
		t.Errorf("ParseRequestID = %q", got)
	}
	if got := ParseRequestID(""); got != "" {
		t.Errorf("ParseRequestID empty = %q", got)
	}
}

func TestParseMakeModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"copies=1 printer-make-and-model='HP LaserJet Professional P1007' printer-type=1", "HP LaserJet Professional P1007"},
		{"printer-make-and-model='Local Raw Printer'", "Raw Queue"},
		{"printer-make-and-model='Samsung M2020 - IPP Everywhere'", "IPP Everywhere"},
		{"printer-make-and-model=Generic", "Generic"},
		{"copies=1", ""},
	}
	for _, tt := range tests {
		if got := parseMakeModel(tt.in); got != tt.want {
			t.Errorf("parseMakeModel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDriverNamePrefersPPD(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ppd := "*PPD-Adobe: \"4.3\"\n*ModelName: \"Samsung SCX-4x21\"\n*NickName: \"Samsung SCX-4x21 Series\"\n"
	if err := os.WriteFile(filepath.Join(dir, "Samsung.ppd"), []byte(ppd), 0644); err != nil {
		t.Fatal(err)
	}

	runner := newScriptedRunner()
	runner.on("lpoptions -p Other", ok("printer-make-and-model='Local Raw Printer'"))
	c := NewCUPS(CUPSConfig{PPDDir: dir}, runner, nil)

	if got := c.DriverName(context.Background(), "Samsung"); got != "Samsung SCX-4x21 Series" {
		t.Errorf("DriverName from PPD = %q", got)
	}
	if got := c.DriverName(context.Background(), "Other"); got != "Raw Queue" {
		t.Errorf("DriverName from lpoptions = %q", got)
	}

	names, err := c.QueueDescriptors(context.Background())
	if err != nil || !reflect.DeepEqual(names, []string{"Samsung"}) {
		t.Errorf("QueueDescriptors = %v, %v", names, err)
	}
}

func TestCUPSSubmitBuildsArguments(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner()
	runner.on("lp -d HP -n 2 -o fit-to-page -o media=A4 /tmp/job.pdf", ok("request id is HP-7 (1 file(s))"))
	c := NewCUPS(CUPSConfig{}, runner, nil)

	id, err := c.Submit(context.Background(), "HP", "/tmp/job.pdf", 2, []string{"fit-to-page", "media=A4"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "HP-7" {
		t.Errorf("job id = %q", id)
	}
	for _, call := range runner.calls {
		if !reflect.DeepEqual(call.Env, cLocale) {
			t.Errorf("%s ran without C locale", call)
		}
	}
}

func TestCUPSEnableQueueRunsAllSteps(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner()
	runner.on("lpadmin -p HP -E", ok(""))
	runner.on("cupsenable HP", ok(""))
	runner.on("cupsaccept HP", failed(1, "cupsaccept: denied"))
	c := NewCUPS(CUPSConfig{}, runner, nil)

	err := c.EnableQueue(context.Background(), "HP")
	if err == nil {
		t.Fatal("expected cupsaccept failure to surface")
	}
	want := []string{"lpadmin -p HP -E", "cupsenable HP", "cupsaccept HP"}
	if got := runner.commandLines(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %v, want %v", got, want)
	}
}

func TestCUPSQueuesEmptyIsNotError(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner()
	runner.on("lpstat -p", failed(1, "lpstat: No destinations added."))
	c := NewCUPS(CUPSConfig{}, runner, nil)

	queues, err := c.Queues(context.Background())
	if err != nil || len(queues) != 0 {
		t.Errorf("Queues() = %v, %v; want empty, nil", queues, err)
	}
}

func TestCUPSListDevicesAndModels(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner()
	runner.on("lpinfo -v", ok("network socket\ndirect usb://Samsung/SCX-4x21%20Series?serial=Z1\nnetwork ipp\n"))
	runner.on("lpinfo -m", ok("drv:///sample.drv/generic.ppd Generic PostScript Printer\nsamsung/scx4x21.ppd Samsung SCX-4x21 Series\n"))
	c := NewCUPS(CUPSConfig{}, runner, nil)

	devices, err := c.ListDevices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 3 || devices[1].URI != "usb://Samsung/SCX-4x21%20Series?serial=Z1" || devices[1].Class != "direct" {
		t.Errorf("unexpected devices %+v", devices)
	}

	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []Model{
		{PPD: "drv:///sample.drv/generic.ppd", Name: "Generic PostScript Printer"},
		{PPD: "samsung/scx4x21.ppd", Name: "Samsung SCX-4x21 Series"},
	}
	if !reflect.DeepEqual(models, want) {
		t.Errorf("models = %+v", models)
	}
}

func TestGenerateDriverlessPPD(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "out.ppd")
	runner := newScriptedRunner()
	runner.on("driverless ipp://10.0.0.5/ipp/print", ok("*PPD-Adobe: \"4.3\"\n*NickName: \"Driverless\"\n"))
	runner.on("driverless ipp://10.0.0.6/ipp/print", ok("no printer here"))
	c := NewCUPS(CUPSConfig{}, runner, nil)

	if err := c.GenerateDriverlessPPD(context.Background(), "ipp://10.0.0.5/ipp/print", dest); err != nil {
		t.Fatalf("GenerateDriverlessPPD: %v", err)
	}
	if data, _ := os.ReadFile(dest); len(data) == 0 {
		t.Errorf("PPD not written")
	}
	if err := c.GenerateDriverlessPPD(context.Background(), "ipp://10.0.0.6/ipp/print", dest); err == nil {
		t.Errorf("expected error when output is not a PPD")
	}
}

func TestSchedulerRunning(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner()
	runner.on("lpstat -r", ok("scheduler is running\n"))
	if !NewCUPS(CUPSConfig{}, runner, nil).SchedulerRunning(context.Background()) {
		t.Errorf("expected scheduler running")
	}

	stopped := newScriptedRunner()
	stopped.on("lpstat -r", failed(1, "scheduler is not running"))
	if NewCUPS(CUPSConfig{}, stopped, nil).SchedulerRunning(context.Background()) {
		t.Errorf("expected scheduler stopped")
	}
}

func TestClassifyURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		uri      string
		expected PrinterType
	}{
		{"usb://HP/LaserJet%20Pro?serial=ABC123", PrinterTypeUSB},
		{"USB://Brother/MFC-7460DN", PrinterTypeUSB},
		{"parallel:/dev/lp0", PrinterTypeLocal},
		{"/dev/usb/lp0", PrinterTypeLocal},
		{"ipp://192.168.1.100/ipp/print", PrinterTypeNetwork},
		{"socket://192.168.1.100:9100", PrinterTypeNetwork},
		{"dnssd://HP%20M404._ipp._tcp.local/", PrinterTypeNetwork},
		{"cups-pdf:/", PrinterTypeVirtual},
		{"file:///tmp/output.ps", PrinterTypeVirtual},
		{"", PrinterTypeUnknown},
		{"foo://bar", PrinterTypeUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyURI(tt.uri); got != tt.expected {
			t.Errorf("ClassifyURI(%q) = %v, want %v", tt.uri, got, tt.expected)
		}
	}
}

func TestExecRunner(t *testing.T) {
	t.Parallel()

	r := ExecRunner{}
	res := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo out; echo err >&2; exit 3"}})
	if res.OK() || res.ExitCode != 3 {
		t.Fatalf("expected exit 3, got %+v", res)
	}
	if res.Stdout != "out\n" || res.Message() != "err" {
		t.Errorf("unexpected output %+v", res)
	}

	res = r.Run(context.Background(), Command{Name: "definitely-not-a-real-binary-xyz"})
	if res.OK() || res.Err == nil {
		t.Errorf("missing binary should fail: %+v", res)
	}
}
