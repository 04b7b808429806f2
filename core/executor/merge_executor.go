package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"kjandoc-demoware/core/models"
	"kjandoc-demoware/core/repository"
	"kjandoc-demoware/core/spec"
	"kjandoc-demoware/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout is the wall-clock limit for one merge tool run
const DefaultTimeout = 600 * time.Second

// OutputExt is the extension of every merge artifact
const OutputExt = ".pptx"

// killGrace bounds how long Wait keeps reading output after the process exits or is killed
const killGrace = 5 * time.Second

// publishTimeout bounds one artifact upload
const publishTimeout = 2 * time.Minute

var (
	ErrMissingFields     = errors.New("missing job_id or files")
	ErrUploadDirMissing  = errors.New("upload dir not found, did you upload first?")
	ErrInvalidMode       = errors.New("invalid mode")
	ErrBadFilename       = errors.New("bad filename")
	ErrFileNotFound      = errors.New("not found")
	ErrBinaryUnavailable = errors.New("binary unavailable")
)

// Publisher receives finished artifacts
type Publisher interface {
	Publish(ctx context.Context, jobID, artifactPath string) error
}

// Config holds executor settings
type Config struct {
	OutputDir string
	Timeout   time.Duration
	Binaries  map[models.MergeMode]string
}

// Submission is returned once a merge job has been accepted
type Submission struct {
	JobID   string `json:"job_id"`
	Command string `json:"command"`
	Output  string `json:"output"`
}

// MergeExecutor validates merge requests and runs the merge tool in the background
type MergeExecutor struct {
	registry  *repository.JobRegistry
	uploads   *storage.UploadStore
	outputDir string
	timeout   time.Duration
	binaries  map[models.MergeMode]string
	lookPath  func(file string) (string, error)
	now       func() time.Time
	publisher Publisher
	logger    logrus.FieldLogger
	wg        sync.WaitGroup
}

// Option customizes a MergeExecutor
type Option func(*MergeExecutor)

// WithPublisher hands every successful artifact to p
func WithPublisher(p Publisher) Option {
	return func(e *MergeExecutor) { e.publisher = p }
}

// WithLookPath replaces exec.LookPath for binary discovery
func WithLookPath(fn func(string) (string, error)) Option {
	return func(e *MergeExecutor) { e.lookPath = fn }
}

// WithClock replaces time.Now for output naming
func WithClock(fn func() time.Time) Option {
	return func(e *MergeExecutor) { e.now = fn }
}

// NewMergeExecutor creates a new merge executor
func NewMergeExecutor(
	registry *repository.JobRegistry,
	uploads *storage.UploadStore,
	cfg Config,
	logger logrus.FieldLogger,
	opts ...Option,
) *MergeExecutor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	binaries := map[models.MergeMode]string{
		models.MergeModeRender:       "kjandoc",
		models.MergeModeSameTemplate: "kjandoc-st",
	}
	for mode, bin := range cfg.Binaries {
		if bin != "" {
			binaries[mode] = bin
		}
	}

	e := &MergeExecutor{
		registry:  registry,
		uploads:   uploads,
		outputDir: cfg.OutputDir,
		timeout:   timeout,
		binaries:  binaries,
		lookPath:  exec.LookPath,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Binary returns the tool configured for mode
func (e *MergeExecutor) Binary(mode models.MergeMode) string {
	return e.binaries[mode]
}

// LookupTool resolves the binary for mode on the search path
func (e *MergeExecutor) LookupTool(mode models.MergeMode) (string, error) {
	bin := e.binaries[mode]
	path, err := e.lookPath(bin)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found in PATH", ErrBinaryUnavailable, bin)
	}
	return path, nil
}

// Submit validates req, registers a running job and starts the merge in the
// background. It never waits for the merge tool.
func (e *MergeExecutor) Submit(req spec.MergeRequest) (*Submission, error) {
	if req.JobID == "" || len(req.Files) == 0 {
		return nil, ErrMissingFields
	}
	if !e.uploads.SessionExists(req.JobID) {
		return nil, ErrUploadDirMissing
	}

	mode, err := models.ParseMergeMode(req.MergeMode())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMode, req.MergeMode())
	}

	for _, f := range req.Files {
		if f == "" || strings.ContainsAny(f, `/\`) || strings.Contains(f, "..") {
			return nil, fmt.Errorf("%w: %s", ErrBadFilename, f)
		}
	}
	for _, f := range req.Files {
		if !e.uploads.FileExists(req.JobID, f) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, f)
		}
	}

	binary := e.binaries[mode]
	if _, err := e.LookupTool(mode); err != nil {
		return nil, err
	}

	outName := e.newOutputName()
	outPath := filepath.Join(e.outputDir, outName)

	argv := make([]string, 0, len(req.Files)+3)
	argv = append(argv, binary)
	for _, f := range req.Files {
		argv = append(argv, e.uploads.FilePath(req.JobID, f))
	}
	argv = append(argv, "-o", outPath)

	command := displayCommand(binary, req.Files, outName)

	e.registry.Create(req.JobID, models.Job{
		Status:  models.JobStatusRunning,
		Command: command,
		Output:  outName,
	})

	e.logger.WithFields(logrus.Fields{
		"job_id": req.JobID,
		"mode":   mode,
		"files":  len(req.Files),
		"output": outName,
	}).Info("Merge job started")

	e.wg.Add(1)
	go e.run(req.JobID, outName, argv)

	return &Submission{
		JobID:   req.JobID,
		Command: command,
		Output:  outName,
	}, nil
}

// Status returns a snapshot of the job
func (e *MergeExecutor) Status(jobID string) (models.Job, bool) {
	return e.registry.Get(jobID)
}

// Wait blocks until every started merge has finished or ctx is done
func (e *MergeExecutor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes one merge and records its single terminal state
func (e *MergeExecutor) run(jobID, outName string, argv []string) {
	defer e.wg.Done()

	logger := e.logger.WithField("job_id", jobID)
	started := time.Now()

	status, output := e.execute(argv)

	// A newer submission for the same id owns the record; leave it alone.
	applied := false
	e.registry.Update(jobID, func(job *models.Job) {
		if job.Output != outName || job.Status.IsTerminal() {
			return
		}
		job.Status = status
		job.Log = output
		applied = true
	})

	logger.WithFields(logrus.Fields{
		"status":   status,
		"output":   outName,
		"duration": time.Since(started).Round(time.Millisecond),
	}).Info("Merge job finished")

	if !applied {
		logger.Warn("Merge job superseded by a newer submission")
		return
	}

	if err := e.uploads.RemoveSession(jobID); err != nil {
		logger.WithError(err).Warn("Failed to remove upload dir")
	}

	if status == models.JobStatusDone && e.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := e.publisher.Publish(ctx, jobID, filepath.Join(e.outputDir, outName)); err != nil {
			logger.WithError(err).Warn("Failed to publish artifact")
		}
	}
}

// execute runs argv under the timeout and maps the outcome onto a terminal status
func (e *MergeExecutor) execute(argv []string) (status models.JobStatus, log string) {
	defer func() {
		if r := recover(); r != nil {
			status = models.JobStatusError
			log = fmt.Sprintf("internal error: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.WaitDelay = killGrace

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return models.JobStatusDone, out.String()
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return models.JobStatusError, fmt.Sprintf("timed out (%s limit)", e.timeout)
	case errors.As(err, &exitErr):
		return models.JobStatusError, out.String()
	case errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil:
		// The tool exited but left a child holding its output open.
		if cmd.ProcessState.Success() {
			return models.JobStatusDone, out.String()
		}
		return models.JobStatusError, out.String()
	default:
		return models.JobStatusError, err.Error()
	}
}

// newOutputName returns {epoch}_{8 hex}.pptx
func (e *MergeExecutor) newOutputName() string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d_%s%s", e.now().Unix(), token, OutputExt)
}

// displayCommand rebuilds a readable command line for the job record
func displayCommand(binary string, files []string, outName string) string {
	pretty := make([]string, len(files))
	for i, f := range files {
		pretty[i] = prettyName(f)
	}
	return fmt.Sprintf("%s %s -o output/%s", filepath.Base(binary), strings.Join(pretty, " "), outName)
}

// prettyName strips a leading "digits_" upload-order prefix
func prettyName(f string) string {
	prefix, rest, ok := strings.Cut(f, "_")
	if !ok || prefix == "" {
		return f
	}
	for _, c := range prefix {
		if c < '0' || c > '9' {
			return f
		}
	}
	return rest
}
