// Package printjob turns a submitted document into a spooled print job:
// the content is written to a temp file, converted or rotated when needed,
// submitted with the right options and every temp artifact is removed.
package printjob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tzi-shue/print-service-deploy/agent/spooler"
)

// Kind is the handling class of a file extension.
type Kind int

const (
	KindOther Kind = iota
	KindImage
	KindPDF
	KindOffice
)

const (
	MinCopies = 1
	MaxCopies = 99

	ColorGray       = "gray"
	OrientLandscape = "landscape"
)

var (
	imageExts  = map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true, "bmp": true}
	officeExts = map[string]bool{
		"doc": true, "docx": true, "xls": true, "xlsx": true, "ppt": true, "pptx": true,
		"odt": true, "ods": true, "odp": true, "txt": true, "rtf": true,
	}
)

// ErrEmptyContent is returned for jobs without a document.
var ErrEmptyContent = errors.New("empty print content")

// Classify maps a file extension (with or without dot, any case) to a Kind.
func Classify(ext string) Kind {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch {
	case ext == "pdf":
		return KindPDF
	case imageExts[ext]:
		return KindImage
	case officeExts[ext]:
		return KindOffice
	}
	return KindOther
}

// ClampCopies limits n to 1..99.
func ClampCopies(n int) int {
	if n < MinCopies {
		return MinCopies
	}
	if n > MaxCopies {
		return MaxCopies
	}
	return n
}

// Job is one document to print.
type Job struct {
	TaskID      string
	Printer     string
	Content     []byte
	Filename    string
	Ext         string
	Copies      int
	PageFrom    int
	PageTo      int
	ColorMode   string
	Orientation string
}

// Extension returns the lower-cased extension of the job, taken from Ext or
// else from Filename. Anything other than 1 to 10 ASCII letters or digits
// yields "", so the result is always safe inside a file name.
func (j Job) Extension() string {
	ext := j.Ext
	if ext == "" {
		ext = filepath.Ext(j.Filename)
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if len(ext) > 10 {
		return ""
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// Result is the outcome of a job.
type Result struct {
	Success bool
	Message string
	JobID   string
	Options []string
}

// Logger interface for pipeline operations
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

// Options configures a Pipeline.
type Options struct {
	Subsystem spooler.Subsystem
	// Runner executes the document converters.
	Runner         spooler.Runner
	TempDir        string
	Media          string
	ConvertTimeout time.Duration
	Logger         Logger
}

// Pipeline executes print jobs.
type Pipeline struct {
	sub            spooler.Subsystem
	runner         spooler.Runner
	tempDir        string
	media          string
	convertTimeout time.Duration
	logger         Logger
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		sub:            opts.Subsystem,
		runner:         opts.Runner,
		tempDir:        opts.TempDir,
		media:          opts.Media,
		convertTimeout: opts.ConvertTimeout,
		logger:         opts.Logger,
	}
	if p.runner == nil {
		p.runner = spooler.ExecRunner{}
	}
	if p.tempDir == "" {
		p.tempDir = filepath.Join(os.TempDir(), "print_jobs")
	}
	if p.media == "" {
		p.media = "A4"
	}
	if p.convertTimeout <= 0 {
		p.convertTimeout = 60 * time.Second
	}
	if p.logger == nil {
		p.logger = nullLogger{}
	}
	return p
}

// TempDir returns the directory spool files are written to.
func (p *Pipeline) TempDir() string {
	return p.tempDir
}

// cleanup collects temp files to remove when a job finishes.
type cleanup struct {
	mu    sync.Mutex
	paths []string
}

func (c *cleanup) add(path string) string {
	c.mu.Lock()
	c.paths = append(c.paths, path)
	c.mu.Unlock()
	return path
}

func (c *cleanup) run(logger Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, path := range c.paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove temp file", "path", path, "error", err)
		}
	}
	c.paths = nil
}

// Execute prints job. It never leaves temp files behind.
func (p *Pipeline) Execute(ctx context.Context, job Job) Result {
	if job.Printer == "" {
		return Result{Message: "printer name is required"}
	}
	if len(job.Content) == 0 {
		return Result{Message: ErrEmptyContent.Error()}
	}

	var tmp cleanup
	defer tmp.run(p.logger)

	if err := os.MkdirAll(p.tempDir, 0755); err != nil {
		return Result{Message: fmt.Sprintf("create spool directory: %v", err)}
	}

	ext := job.Extension()
	name := "print_" + uuid.NewString()
	if ext != "" {
		name += "." + ext
	}
	file := tmp.add(filepath.Join(p.tempDir, name))
	if err := os.WriteFile(file, job.Content, 0600); err != nil {
		return Result{Message: fmt.Sprintf("write spool file: %v", err)}
	}

	copies := ClampCopies(job.Copies)
	kind := Classify(ext)
	p.logger.Info("Print job received", "task_id", job.TaskID, "printer", job.Printer,
		"ext", ext, "copies", copies, "bytes", len(job.Content))

	if kind == KindOffice {
		pdf, err := p.convertToPDF(ctx, file)
		if pdf != "" {
			tmp.add(pdf)
		}
		if err != nil {
			p.logger.Error("Document conversion failed", "task_id", job.TaskID, "error", err)
			return Result{Message: "document conversion failed: " + err.Error()}
		}
		file, kind = pdf, KindPDF
	}

	var options []string
	if kind == KindImage || kind == KindPDF {
		options = append(options, "fit-to-page", "media="+p.media)
		if kind == KindPDF && job.PageFrom >= 1 && job.PageTo >= job.PageFrom {
			options = append(options, fmt.Sprintf("page-ranges=%d-%d", job.PageFrom, job.PageTo))
		}
		if strings.EqualFold(job.Orientation, OrientLandscape) {
			rotated, err := p.rotate(ctx, file, kind, &tmp)
			if err != nil {
				p.logger.Warn("Rotation failed, using printer landscape option", "task_id", job.TaskID, "error", err)
				options = append(options, "landscape")
			} else {
				file = rotated
			}
		}
	}
	if strings.EqualFold(job.ColorMode, ColorGray) {
		options = append(options, "ColorModel=Gray", "print-color-mode=monochrome")
	}

	id, err := p.sub.Submit(ctx, job.Printer, file, copies, options)
	if err != nil {
		p.logger.Error("Print submission failed", "task_id", job.TaskID, "printer", job.Printer, "error", err)
		return Result{Message: "print failed: " + err.Error(), Options: options}
	}
	p.logger.Info("Print job submitted", "task_id", job.TaskID, "printer", job.Printer, "job_id", id)
	return Result{Success: true, Message: "print job submitted", JobID: id, Options: options}
}

// convertToPDF runs a headless office conversion next to file and returns
// the produced PDF path.
func (p *Pipeline) convertToPDF(ctx context.Context, file string) (string, error) {
	dir := filepath.Dir(file)
	pdf := strings.TrimSuffix(file, filepath.Ext(file)) + ".pdf"
	res := p.runner.Run(ctx, spooler.Command{
		Name:    "libreoffice",
		Args:    []string{"--headless", "--convert-to", "pdf", "--outdir", dir, file},
		Env:     []string{"HOME=" + dir},
		Timeout: p.convertTimeout,
	})
	if _, err := os.Stat(pdf); err != nil {
		if !res.OK() {
			return pdf, errors.New(res.Message())
		}
		return pdf, fmt.Errorf("converter produced no PDF")
	}
	return pdf, nil
}

// rotate writes a copy of file turned by 90 degrees.
func (p *Pipeline) rotate(ctx context.Context, file string, kind Kind, tmp *cleanup) (string, error) {
	base := strings.TrimSuffix(file, filepath.Ext(file))
	if kind == KindImage {
		out := tmp.add(base + "_rotated" + filepath.Ext(file))
		res := p.runner.Run(ctx, spooler.Command{Name: "convert", Args: []string{file, "-rotate", "90", out}})
		return out, produced(out, res)
	}

	out := tmp.add(base + "_rotated.pdf")
	res := p.runner.Run(ctx, spooler.Command{
		Name: "pdfjam",
		Args: []string{"--angle", "90", "--landscape", "--outfile", out, file},
	})
	err := produced(out, res)
	if err == nil {
		return out, nil
	}
	p.logger.Debug("pdfjam rotation failed, trying ghostscript", "error", err)

	ps := tmp.add(base + "_rotated.ps")
	res = p.runner.Run(ctx, spooler.Command{
		Name: "gs",
		Args: []string{"-q", "-dNOPAUSE", "-dBATCH", "-sDEVICE=ps2write", "-sOutputFile=" + ps, file},
	})
	if err := produced(ps, res); err != nil {
		return "", err
	}
	res = p.runner.Run(ctx, spooler.Command{
		Name: "gs",
		Args: []string{"-q", "-dNOPAUSE", "-dBATCH", "-sDEVICE=pdfwrite", "-dAutoRotatePages=/None",
			"-sOutputFile=" + out, "-c", "<</Orientation 1>> setpagedevice", "-f", ps},
	})
	return out, produced(out, res)
}

func produced(path string, res spooler.Result) error {
	if !res.OK() {
		return errors.New(res.Message())
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		return fmt.Errorf("%s was not produced", filepath.Base(path))
	}
	return nil
}

// TestPage prints a short text page identifying the printer and device.
func (p *Pipeline) TestPage(ctx context.Context, printer, deviceID string) Result {
	if printer == "" {
		return Result{Message: "printer name is required"}
	}
	if err := os.MkdirAll(p.tempDir, 0755); err != nil {
		return Result{Message: fmt.Sprintf("create spool directory: %v", err)}
	}

	var tmp cleanup
	defer tmp.run(p.logger)

	file := tmp.add(filepath.Join(p.tempDir, "test_print_"+strconv.FormatInt(time.Now().UnixNano(), 10)+".txt"))
	if err := os.WriteFile(file, []byte(testPageText(printer, deviceID, time.Now())), 0600); err != nil {
		return Result{Message: fmt.Sprintf("write test page: %v", err)}
	}

	options := []string{"cpi=12", "lpi=7"}
	id, err := p.sub.Submit(ctx, printer, file, 1, options)
	if err != nil {
		return Result{Message: "print failed: " + err.Error(), Options: options}
	}
	p.logger.Info("Test page submitted", "printer", printer, "job_id", id)
	return Result{Success: true, Message: "test page sent to the print queue", JobID: id, Options: options}
}

func testPageText(printer, deviceID string, now time.Time) string {
	rule := strings.Repeat("=", 40)
	var b strings.Builder
	b.WriteString("\n" + rule + "\n")
	b.WriteString("        Print Test Page\n")
	b.WriteString(rule + "\n\n")
	fmt.Fprintf(&b, "Printer: %s\n", printer)
	fmt.Fprintf(&b, "Time: %s\n", now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Device: %s\n\n", deviceID)
	b.WriteString("If you can see this page,\nthe printer is configured correctly!\n\n")
	b.WriteString(rule + "\n")
	return b.String()
}
