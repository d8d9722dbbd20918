// Package backend implements the scheduler-agnostic backend adapter: it
// submits, polls, and kills jobs on an external batch scheduler purely
// through configured command templates and a job-id regex.
//
// The adapter composes the template engine, process runner, pattern
// extractor, concurrency gate, and the job lifecycle rules. It is the
// long-lived owner of job state once submit succeeds; there is no durable
// persistence, and restart recovery is left to the surrounding workflow
// engine.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"batchbridge/internal/apperrors"
	"batchbridge/internal/config"
	"batchbridge/internal/dispatcher"
	"batchbridge/internal/extract"
	"batchbridge/internal/gate"
	"batchbridge/internal/job"
	"batchbridge/internal/observability"
	"batchbridge/internal/runner"
	"batchbridge/internal/template"
)

const (
	maxJobNameLength = 128
	eventSource      = "batchbridge/backend"
	tempDirTimeout   = 30 * time.Second
)

// jobNamePattern allows alphanumeric, hyphens, and underscores.
var jobNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// engineVars are the fixed engine-provided placeholders. job_id is only
// bound for kill and check-alive, after submission output was parsed.
var engineVars = map[string]bool{
	"job_name": true,
	"cwd":      true,
	"out":      true,
	"err":      true,
	"script":   true,
}

// AliveEvidence selects how a check-alive result is interpreted. The
// template is an opaque command, so the evidence policy is configuration.
type AliveEvidence string

const (
	// AliveByJobID: exit 0 and the external id appears in stdout.
	AliveByJobID AliveEvidence = "job-id"
	// AliveByOutput: exit 0 and stdout is non-empty.
	AliveByOutput AliveEvidence = "any-output"
	// AliveByExitCode: exit 0 alone counts as alive.
	AliveByExitCode AliveEvidence = "exit-code"
)

// Config holds the dependencies and raw configuration for an Adapter.
type Config struct {
	Backend *config.BackendConfig

	// Runner executes expanded commands (required).
	Runner runner.Runner

	// Dispatcher delivers status events to job callbacks (optional).
	Dispatcher dispatcher.Dispatcher

	// Metrics records adapter metrics (optional).
	Metrics *observability.Metrics
}

// Adapter is the backend orchestrator. Safe for concurrent use across
// independent jobs; operations on one handle are serialized internally.
type Adapter struct {
	submit     *template.Command
	kill       *template.Command
	checkAlive *template.Command
	extractor  *extract.Extractor
	schema     job.Schema
	gate       *gate.Gate
	runner     runner.Runner
	dispatcher dispatcher.Dispatcher
	metrics    *observability.Metrics

	localization  []string
	aliveEvidence AliveEvidence
	rcFile        string
	tempDir       string
	requiredAttrs []string

	submitTimeout     time.Duration
	killTimeout       time.Duration
	checkAliveTimeout time.Duration

	state *stateRepo
}

// New validates the whole backend configuration and constructs the
// adapter. Every malformed template, regex, or limit is rejected here so
// that configuration errors never surface mid-job.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Runner == nil {
		return nil, apperrors.Configuration("runner", "a process runner is required")
	}
	bc := cfg.Backend
	if bc == nil {
		return nil, apperrors.Configuration("backend", "backend configuration is required")
	}

	schema, err := job.ParseSchema(bc.RuntimeAttributes)
	if err != nil {
		return nil, err
	}

	submit, err := template.Parse("submit", bc.Submit)
	if err != nil {
		return nil, err
	}
	kill, err := template.Parse("kill", bc.Kill)
	if err != nil {
		return nil, err
	}
	checkAlive, err := template.Parse("check-alive", bc.CheckAlive)
	if err != nil {
		return nil, err
	}

	if !submit.References("script") {
		return nil, apperrors.Configuration("submit", "template must reference ${script}")
	}

	submitAllowed := func(name string) bool { return engineVars[name] || schema.Declares(name) }
	queryAllowed := func(name string) bool { return name == "job_id" || submitAllowed(name) }
	if err := submit.CheckResolvable(submitAllowed); err != nil {
		return nil, err
	}
	if err := kill.CheckResolvable(queryAllowed); err != nil {
		return nil, err
	}
	if err := checkAlive.CheckResolvable(queryAllowed); err != nil {
		return nil, err
	}

	// Attributes the submit template references and that carry no default
	// must be present on every spec, so expansion can never come up short
	// for a spec that passed validation.
	var requiredAttrs []string
	for _, name := range submit.Placeholders() {
		if !engineVars[name] && schema.Declares(name) && !schema.HasDefault(name) {
			requiredAttrs = append(requiredAttrs, name)
		}
	}

	extractor, err := extract.New(bc.JobIDRegex, bc.StrictJobID)
	if err != nil {
		return nil, err
	}

	g, err := gate.New(bc.ConcurrentJobLimit)
	if err != nil {
		return nil, err
	}

	evidence := AliveEvidence(bc.AliveEvidence)
	switch evidence {
	case "", AliveByJobID:
		evidence = AliveByJobID
	case AliveByOutput, AliveByExitCode:
	default:
		return nil, apperrors.Configuration("alive-evidence", fmt.Sprintf("unknown policy %q", bc.AliveEvidence))
	}

	rcFile := bc.RCFile
	if rcFile == "" {
		rcFile = "rc"
	}
	if strings.ContainsRune(rcFile, os.PathSeparator) {
		return nil, apperrors.Configuration("rc-file", "must be a bare filename")
	}

	a := &Adapter{
		submit:            submit,
		kill:              kill,
		checkAlive:        checkAlive,
		extractor:         extractor,
		schema:            schema,
		gate:              g,
		runner:            cfg.Runner,
		dispatcher:        cfg.Dispatcher,
		metrics:           cfg.Metrics,
		localization:      bc.Localization,
		aliveEvidence:     evidence,
		rcFile:            rcFile,
		requiredAttrs:     requiredAttrs,
		submitTimeout:     bc.SubmitTimeout,
		killTimeout:       bc.KillTimeout,
		checkAliveTimeout: bc.CheckAliveTimeout,
		state:             newStateRepo(),
	}

	if a.tempDir, err = a.resolveTempDir(ctx, bc.TemporaryDirectory); err != nil {
		return nil, err
	}

	slog.Info("Backend adapter ready",
		"concurrentJobLimit", bc.ConcurrentJobLimit,
		"tempDir", a.tempDir,
		"aliveEvidence", string(evidence),
	)
	return a, nil
}

// resolveTempDir evaluates the temporary-directory shell expression exactly
// once, at construction.
func (a *Adapter) resolveTempDir(ctx context.Context, expression string) (string, error) {
	if strings.TrimSpace(expression) == "" {
		return os.TempDir(), nil
	}
	res, err := a.runner.Run(ctx, expression, tempDirTimeout)
	if err != nil {
		return "", apperrors.Configuration("temporary-directory", fmt.Sprintf("expression failed: %v", err))
	}
	if res.TimedOut || res.ExitCode != 0 {
		return "", apperrors.Configuration("temporary-directory", fmt.Sprintf("expression exited %d: %s", res.ExitCode, firstLine(res.Stderr)))
	}
	dir := strings.TrimSpace(res.Stdout)
	if dir == "" {
		return "", apperrors.Configuration("temporary-directory", "expression produced no output")
	}
	return dir, nil
}

// Submit accepts a job spec, waits for a concurrency slot (FIFO), runs the
// submit template, and confirms the external id from the command output.
// On any failure past slot acquisition the job ends terminal Failed and
// the slot is released; it never occupied scheduler capacity.
func (a *Adapter) Submit(ctx context.Context, spec *job.Spec) (*job.Handle, error) {
	normalized, err := a.normalize(spec)
	if err != nil {
		return nil, err
	}

	rec, err := a.state.reserve(normalized)
	if err != nil {
		return nil, err
	}

	logger := slog.With("jobId", normalized.Name)

	waitStart := time.Now()
	slot, err := a.gate.Acquire(ctx)
	if err != nil {
		// Never held a slot, never reached the scheduler: the
		// reservation simply goes away.
		a.state.remove(normalized.Name)
		return nil, apperrors.Submission(normalized.Name, err)
	}
	if a.metrics != nil {
		a.metrics.RecordGateWait(ctx, time.Since(waitStart).Seconds())
		a.metrics.RecordSlotAcquired(ctx)
	}

	command, err := a.submit.Expand(a.vars(normalized, ""))
	if err != nil {
		return nil, a.failSubmit(ctx, rec, slot, err)
	}

	res, err := a.run(ctx, observability.OpSubmit, command, a.submitTimeout)
	if err != nil {
		return nil, a.failSubmit(ctx, rec, slot, err)
	}
	if res.TimedOut {
		return nil, a.failSubmit(ctx, rec, slot, apperrors.TimedOut("submit"))
	}
	if res.ExitCode != 0 {
		return nil, a.failSubmit(ctx, rec, slot, fmt.Errorf("submit command exited %d: %s", res.ExitCode, firstLine(res.Stderr)))
	}

	external, err := a.extractor.Extract(res.Stdout)
	if err != nil {
		return nil, a.failSubmit(ctx, rec, slot, err)
	}

	rec.mu.Lock()
	if rec.status.Terminal() {
		// Killed while the submit round-trip was in flight. The abort
		// verdict stands; give the slot back and reap the job the
		// submit just created, or it runs orphaned on the scheduler.
		rec.identity = rec.identity.Confirm(external)
		handle := &job.Handle{ID: normalized.Name, ExternalID: external, Status: rec.status}
		rec.mu.Unlock()
		slot.Release()
		if a.metrics != nil {
			a.metrics.RecordSlotReleased(ctx)
		}
		a.reapOrphan(ctx, normalized, external)
		return handle, nil
	}
	rec.identity = rec.identity.Confirm(external)
	rec.status = job.StatusSubmitted
	rec.slot = slot
	report := rec.reportLocked()
	rec.mu.Unlock()

	if a.metrics != nil {
		a.metrics.RecordJobSubmitted(ctx)
	}
	a.emit(normalized, report)
	logger.Info("Job submitted", "externalId", external)

	return &job.Handle{ID: normalized.Name, ExternalID: external, Status: job.StatusSubmitted}, nil
}

// Poll performs at most one check-alive round-trip and resolves the job's
// next state from the evidence. Idempotent: with no external state change,
// repeated calls return the same status. Execution failures and timeouts
// leave the state untouched and surface as a poll error the caller may
// retry.
func (a *Adapter) Poll(ctx context.Context, jobID string) (job.StatusReport, error) {
	rec, ok := a.state.get(jobID)
	if !ok {
		return job.StatusReport{}, apperrors.NotFound("job", jobID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.status.Terminal() || rec.status == job.StatusPending {
		return rec.reportLocked(), nil
	}

	external, _ := rec.identity.External()
	command, err := a.checkAlive.Expand(a.vars(rec.spec, external))
	if err != nil {
		return job.StatusReport{}, apperrors.PollFailed(jobID, err)
	}

	res, err := a.run(ctx, observability.OpCheckAlive, command, a.checkAliveTimeout)
	if err != nil {
		return job.StatusReport{}, apperrors.PollFailed(jobID, err)
	}
	if res.TimedOut {
		// Inconclusive: the scheduler may just be slow. State unchanged.
		return job.StatusReport{}, apperrors.PollFailed(jobID, apperrors.TimedOut("check-alive"))
	}

	ev := job.Evidence{Alive: a.alive(res, external)}
	if !ev.Alive {
		ev.ExitCode = a.readRC(rec.spec)
	}

	if next := job.Resolve(rec.status, ev); next != rec.status {
		a.transitionLocked(ctx, rec, next, ev.ExitCode, "")
	}
	return rec.reportLocked(), nil
}

// Kill runs the kill template for the job. Best-effort: a non-zero kill
// command leaves the state unchanged and the handle killable again. A kill
// against an already-terminal job is an accepted no-op.
func (a *Adapter) Kill(ctx context.Context, jobID string) error {
	rec, ok := a.state.get(jobID)
	if !ok {
		return apperrors.NotFound("job", jobID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.status.Terminal() {
		return nil
	}

	external, confirmed := rec.identity.External()
	if !confirmed {
		// Never reached the scheduler; nothing external to kill.
		a.transitionLocked(ctx, rec, job.StatusAborted, nil, "aborted before submission")
		return nil
	}

	command, err := a.kill.Expand(a.vars(rec.spec, external))
	if err != nil {
		return apperrors.KillFailed(jobID, err)
	}

	res, err := a.run(ctx, observability.OpKill, command, a.killTimeout)
	if err != nil {
		return apperrors.KillFailed(jobID, err)
	}
	if res.TimedOut {
		return apperrors.KillFailed(jobID, apperrors.TimedOut("kill"))
	}
	if res.ExitCode != 0 {
		return apperrors.KillFailed(jobID, fmt.Errorf("kill command exited %d: %s", res.ExitCode, firstLine(res.Stderr)))
	}

	// Exit 0 is authoritative; no scheduler confirmation awaited.
	a.transitionLocked(ctx, rec, job.StatusAborted, nil, "")
	return nil
}

// Status returns the cached view of a job without touching the scheduler.
func (a *Adapter) Status(jobID string) (job.StatusReport, error) {
	rec, ok := a.state.get(jobID)
	if !ok {
		return job.StatusReport{}, apperrors.NotFound("job", jobID)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.reportLocked(), nil
}

// List returns the cached view of all jobs.
func (a *Adapter) List() []job.StatusReport {
	records := a.state.list()
	out := make([]job.StatusReport, 0, len(records))
	for _, rec := range records {
		rec.mu.Lock()
		out = append(out, rec.reportLocked())
		rec.mu.Unlock()
	}
	return out
}

// Localization returns the configured strategy names, in order.
func (a *Adapter) Localization() []string {
	out := make([]string, len(a.localization))
	copy(out, a.localization)
	return out
}

// Ready reports whether the underlying runner can execute commands.
func (a *Adapter) Ready(ctx context.Context) error {
	return a.runner.Ready(ctx)
}

// Close releases the runner. Job state is process-local and simply goes
// away; external jobs keep running on the scheduler.
func (a *Adapter) Close() error {
	return a.runner.Close()
}

// normalize validates the incoming spec and returns a copy with schema
// defaults and path defaults applied. The caller's spec is not modified.
func (a *Adapter) normalize(spec *job.Spec) (*job.Spec, error) {
	if spec == nil || spec.Name == "" {
		return nil, apperrors.Validation("name", "job name is required")
	}
	if len(spec.Name) > maxJobNameLength {
		return nil, apperrors.Validation("name", fmt.Sprintf("job name exceeds maximum length of %d", maxJobNameLength))
	}
	if !jobNamePattern.MatchString(spec.Name) {
		return nil, apperrors.Validation("name", "job name must be alphanumeric (hyphens and underscores allowed, cannot start with hyphen/underscore)")
	}
	if spec.Script == "" {
		return nil, apperrors.Validation("script", "script path is required")
	}
	if spec.Localization != "" && !a.localizationKnown(spec.Localization) {
		return nil, apperrors.Validation("localization", fmt.Sprintf("strategy %q is not configured", spec.Localization))
	}

	attrs := a.schema.ApplyDefaults(spec.Attributes)
	if err := a.schema.Validate(attrs); err != nil {
		return nil, err
	}
	for _, name := range a.requiredAttrs {
		if _, ok := attrs[name]; !ok {
			return nil, apperrors.Validation(name, fmt.Sprintf("attribute %q is required by the submit template", name))
		}
	}

	s := *spec
	s.Attributes = attrs
	if s.WorkDir == "" {
		s.WorkDir = filepath.Join(a.tempDir, s.Name)
	}
	if s.OutPath == "" {
		s.OutPath = filepath.Join(s.WorkDir, "stdout")
	}
	if s.ErrPath == "" {
		s.ErrPath = filepath.Join(s.WorkDir, "stderr")
	}
	return &s, nil
}

func (a *Adapter) localizationKnown(name string) bool {
	for _, s := range a.localization {
		if s == name {
			return true
		}
	}
	return false
}

// vars builds the template variable bindings for a job. external is empty
// for submit; kill and check-alive get it as ${job_id}.
func (a *Adapter) vars(s *job.Spec, external string) map[string]string {
	v := make(map[string]string, len(s.Attributes)+6)
	for name, val := range s.Attributes {
		v[name] = val.Text()
	}
	v["job_name"] = s.Name
	v["cwd"] = s.WorkDir
	v["out"] = s.OutPath
	v["err"] = s.ErrPath
	v["script"] = s.Script
	if external != "" {
		v["job_id"] = external
	}
	return v
}

// run executes one scheduler command and records its metrics.
func (a *Adapter) run(ctx context.Context, op, command string, timeout time.Duration) (runner.Result, error) {
	start := time.Now()
	res, err := a.runner.Run(ctx, command, timeout)

	outcome := observability.OutcomeOK
	switch {
	case err != nil:
		outcome = observability.OutcomeError
	case res.TimedOut:
		outcome = observability.OutcomeTimedOut
	case res.ExitCode != 0:
		outcome = observability.OutcomeNonZero
	}
	if a.metrics != nil {
		a.metrics.RecordCommand(ctx, op, outcome, time.Since(start).Seconds())
	}
	return res, err
}

// alive interprets a check-alive result under the configured evidence
// policy. A non-zero exit means "absent", never a poll error.
func (a *Adapter) alive(res runner.Result, external string) bool {
	if res.ExitCode != 0 {
		return false
	}
	switch a.aliveEvidence {
	case AliveByOutput:
		return strings.TrimSpace(res.Stdout) != ""
	case AliveByExitCode:
		return true
	default:
		return strings.Contains(res.Stdout, external)
	}
}

// readRC reads the exit-code sentinel the job's script epilogue writes
// into its work dir. nil means no exit evidence exists.
func (a *Adapter) readRC(s *job.Spec) *int {
	path := filepath.Join(s.WorkDir, a.rcFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		slog.Warn("Unparseable rc file", "jobId", s.Name, "path", path)
		return nil
	}
	return &code
}

// reapOrphan kills an external job whose local record went terminal while
// the submit command was still in flight. Best-effort: the abort already
// stands either way, so failures are only logged.
func (a *Adapter) reapOrphan(ctx context.Context, spec *job.Spec, external string) {
	logger := slog.With("jobId", spec.Name, "externalId", external)

	command, err := a.kill.Expand(a.vars(spec, external))
	if err != nil {
		logger.Warn("Failed to expand kill template for orphaned job", "error", err)
		return
	}

	res, err := a.run(ctx, observability.OpKill, command, a.killTimeout)
	switch {
	case err != nil:
		logger.Warn("Failed to kill orphaned job", "error", err)
	case res.TimedOut:
		logger.Warn("Kill of orphaned job timed out")
	case res.ExitCode != 0:
		logger.Warn("Kill of orphaned job exited non-zero", "exitCode", res.ExitCode, "stderr", firstLine(res.Stderr))
	default:
		logger.Info("Orphaned job killed")
	}
}

// failSubmit marks the job terminal Failed, releases its slot, and wraps
// the cause. Caller must not hold rec.mu.
func (a *Adapter) failSubmit(ctx context.Context, rec *record, slot *gate.Slot, cause error) error {
	rec.mu.Lock()
	if !rec.status.Terminal() {
		rec.status = job.StatusFailed
		rec.reason = cause.Error()
	}
	report := rec.reportLocked()
	spec := rec.spec
	rec.mu.Unlock()

	slot.Release()
	if a.metrics != nil {
		a.metrics.RecordSlotReleased(ctx)
	}
	a.emit(spec, report)

	err := apperrors.Submission(spec.Name, cause)
	slog.Warn("Job submission failed", "jobId", spec.Name, "error", cause)
	return err
}

// transitionLocked applies a state change. Caller holds rec.mu.
func (a *Adapter) transitionLocked(ctx context.Context, rec *record, next job.Status, exitCode *int, reason string) {
	prev := rec.status
	rec.status = next
	rec.exitCode = exitCode
	if reason != "" {
		rec.reason = reason
	}

	if next.Terminal() {
		if rec.slot != nil {
			rec.slot.Release()
			if a.metrics != nil {
				a.metrics.RecordSlotReleased(ctx)
			}
		}
		if a.metrics != nil && prev != job.StatusPending {
			a.metrics.RecordJobCompleted(ctx, string(next))
		}
	}

	a.emit(rec.spec, rec.reportLocked())
	slog.Info("Job status changed", "jobId", rec.spec.Name, "from", string(prev), "to", string(next))
}

// emit queues a status event for the job's callback, if any. Dispatch is
// non-blocking; a full buffer drops the event with a metric.
func (a *Adapter) emit(spec *job.Spec, report job.StatusReport) {
	if a.dispatcher == nil || spec.Callback == nil || spec.Callback.URL == "" {
		return
	}
	eventType := job.EventTypeFor(report.Status)
	if !job.FilteredEvents(eventType, spec.Callback.Events) {
		return
	}
	event := job.NewEventBuilder(spec.Name, eventSource).BuildStatusEvent(report)
	if err := a.dispatcher.Dispatch(&dispatcher.Event{
		Payload:     event,
		Destination: spec.Callback.URL,
		SigningKey:  spec.Callback.Key,
	}); err != nil {
		slog.Warn("Failed to dispatch status event", "jobId", spec.Name, "error", err)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
