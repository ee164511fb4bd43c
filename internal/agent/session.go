// internal/agent/session.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/executor"
	"github.com/xkilldash9x/pilot-cli/internal/livelog"
	"github.com/xkilldash9x/pilot-cli/internal/reasoning"
	"github.com/xkilldash9x/pilot-cli/internal/safety"
)

const (
	// Bounds store writes and the final capture, which run on detached contexts so
	// they still happen after the session context is gone.
	persistTimeout = 5 * time.Second
	closeTimeout   = 10 * time.Second
)

type commandKind int

const (
	cmdStart commandKind = iota
	cmdPause
	cmdResume
	cmdConfirm
	cmdDeny
	cmdInstruct
)

func (k commandKind) String() string {
	switch k {
	case cmdStart:
		return "start"
	case cmdPause:
		return "pause"
	case cmdResume:
		return "resume"
	case cmdConfirm:
		return "confirm"
	case cmdDeny:
		return "deny"
	case cmdInstruct:
		return "instruct"
	default:
		return "unknown"
	}
}

type command struct {
	kind  commandKind
	text  string
	reply chan error
}

// boundary outcomes.
type checkpoint int

const (
	proceed checkpoint = iota
	resumed
	stopped
)

// session is the actor behind one AgentSession. Everything below the "actor
// state" marker is touched only by the run goroutine.
type session struct {
	svc     *Service
	id      string
	adapter reasoning.Adapter
	sink    *livelog.Sink
	logger  *zap.Logger

	mu     sync.RWMutex
	record schemas.AgentSession

	commands  chan command
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool

	// actor state
	browser      schemas.BrowserSession
	closeOnce    sync.Once
	started      time.Time
	turn         int
	instructions []string
}

func newSession(svc *Service, record schemas.AgentSession, adapter reasoning.Adapter, sink *livelog.Sink) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		svc:      svc,
		id:       record.ID,
		adapter:  adapter,
		sink:     sink,
		logger:   svc.logger.With(zap.String("session_id", record.ID)),
		record:   record,
		commands: make(chan command),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// -- Caller side --

func (a *session) status() schemas.SessionStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.record.Status
}

func (a *session) snapshot() schemas.AgentSession {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := a.record
	if a.record.StartedAt != nil {
		t := *a.record.StartedAt
		out.StartedAt = &t
	}
	if a.record.CompletedAt != nil {
		t := *a.record.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

func (a *session) requestCancel() {
	a.cancelled.Store(true)
	a.cancel()
}

// send delivers cmd to the actor and waits for its reply.
func (a *session) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case a.commands <- cmd:
	case <-a.done:
		return a.stoppedError(cmd.kind)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-a.done:
		select {
		case err := <-cmd.reply:
			return err
		default:
			return a.stoppedError(cmd.kind)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *session) stoppedError(kind commandKind) error {
	return fmt.Errorf("%w: cannot %s a %s session", ErrInvalidStateTransition, kind, a.status())
}

// -- Actor --

func (a *session) run() {
	defer a.svc.wg.Done()
	defer close(a.done)
	defer a.cancel()

	for {
		select {
		case <-a.ctx.Done():
			a.log(schemas.LogWarn, "Session cancelled before it started.")
			a.finish(schemas.StatusCancelled, "")
			return
		case cmd := <-a.commands:
			switch cmd.kind {
			case cmdStart:
				cmd.reply <- nil
				a.execute()
				return
			case cmdInstruct:
				a.queueInstruction(cmd)
			default:
				cmd.reply <- a.stoppedError(cmd.kind)
			}
		}
	}
}

// execute drives the session from launch to a terminal status.
func (a *session) execute() {
	ctx, cancel := context.WithTimeout(a.ctx, a.svc.cfg.MaxSessionDuration)
	defer cancel()

	a.started = time.Now()
	a.svc.recorder.SessionStarted()

	initial := schemas.StatusRunning
	if a.adapter.Mode() == schemas.ModePlanning {
		initial = schemas.StatusPlanning
	}
	startedAt := a.started.UTC()
	if err := a.transition(initial, func(r *schemas.AgentSession) { r.StartedAt = &startedAt }); err != nil {
		a.logger.Error("Could not start session.", zap.Error(err))
		return
	}
	a.log(schemas.LogInfo, "Launching browser.")

	browser, err := a.svc.browsers.Launch(ctx, a.id)
	if err != nil {
		if a.interrupted(ctx) {
			return
		}
		a.fail(fmt.Sprintf("failed to launch browser: %v", err))
		return
	}
	a.browser = browser

	record := a.snapshot()
	if record.StartURL != "" {
		nav := schemas.Action{ID: "start-url", Type: schemas.ActionNavigate, Value: record.StartURL, Description: "Open start URL"}
		if res := a.perform(ctx, nav); !res.Success {
			if a.interrupted(ctx) {
				return
			}
			a.fail(fmt.Sprintf("failed to open start URL: %s", res.Error))
			return
		}
	}

	obs := a.observe(ctx)
	decision, err := a.reason(ctx, func(ctx context.Context) (*reasoning.Decision, error) {
		return a.adapter.Begin(ctx, record.Objective, obs)
	})

	for {
		if err != nil || decision == nil {
			a.abort(ctx, err)
			return
		}
		if a.status() == schemas.StatusPlanning {
			_ = a.transition(schemas.StatusRunning)
		}

		out, done := a.apply(ctx, decision)
		if done {
			return
		}
		if a.checkpoint(ctx) == stopped {
			return
		}
		if a.turn >= a.svc.cfg.MaxTurns {
			a.log(schemas.LogWarn, "Reached maximum turns limit")
			a.finish(schemas.StatusCompleted, "")
			return
		}

		fb := reasoning.Feedback{
			Results:            out.results,
			SafetyAcknowledged: out.acknowledged,
			Instructions:       a.takeInstructions(),
		}
		if fb.Instructions != "" && a.adapter.Mode() == schemas.ModePlanning {
			_ = a.transition(schemas.StatusPlanning)
		}
		fb.Observation = a.observe(ctx)
		decision, err = a.reason(ctx, func(ctx context.Context) (*reasoning.Decision, error) {
			return a.adapter.Next(ctx, fb)
		})
	}
}

type outcome struct {
	results      []*schemas.ActionResult
	acknowledged bool
}

// apply acts on one Decision. It reports true once the session is terminal.
func (a *session) apply(ctx context.Context, d *reasoning.Decision) (outcome, bool) {
	if d.Text != "" && (len(d.Actions) == 0 || a.adapter.Mode() == schemas.ModeVision) && !d.Complete {
		a.log(schemas.LogInfo, d.Text)
	}
	if d.TasksChanged || d.Task != nil {
		a.syncTasks(d.Task)
	}

	switch d.Safety {
	case safety.DecisionBlock:
		reason := msgBlocked
		if d.Explanation != "" {
			reason = fmt.Sprintf("%s: %s", msgBlocked, d.Explanation)
		}
		a.log(schemas.LogError, reason)
		a.finish(schemas.StatusFailed, reason)
		return outcome{}, true
	case safety.DecisionRequireConfirmation:
		if len(d.Actions) > 0 {
			return a.awaitConfirmation(ctx, d)
		}
	}

	if d.Complete {
		text := d.Text
		if text == "" {
			text = "Objective complete."
		}
		a.log(schemas.LogSuccess, text)
		a.finish(schemas.StatusCompleted, "")
		return outcome{}, true
	}

	results, done := a.runActions(ctx, d.Actions)
	return outcome{results: results}, done
}

// runActions executes a batch one action at a time, checking for commands between
// actions. A failure ends the batch; the reasoning engine hears about the rest as
// not executed. A pause ends it too, so the engine sees a fresh observation on resume.
func (a *session) runActions(ctx context.Context, actions []schemas.Action) ([]*schemas.ActionResult, bool) {
	results := make([]*schemas.ActionResult, 0, len(actions))
	for i, action := range actions {
		if i > 0 {
			switch a.checkpoint(ctx) {
			case stopped:
				return results, true
			case resumed:
				return results, false
			}
		}

		res := a.perform(ctx, action)
		results = append(results, res)
		if res.Success {
			continue
		}
		if a.interrupted(ctx) {
			return results, true
		}
		if a.adapter.Mode() == schemas.ModeVision && executor.Unrecoverable(res.ErrorCode) {
			a.fail(fmt.Sprintf("%s: %s", msgBrowserLost, res.Error))
			return results, true
		}
		break
	}
	return results, false
}

func (a *session) perform(ctx context.Context, action schemas.Action) *schemas.ActionResult {
	label := action.Label()
	a.sink.Update(func(v *schemas.LiveView) { v.CurrentAction = label })
	a.log(schemas.LogAction, label)

	res := a.svc.executor.Execute(ctx, a.id, action)
	if res.URL != "" {
		a.setURL(res.URL)
	}
	if res.Screenshot != "" {
		a.saveScreenshot(res.Screenshot, action.ID, label, res.URL)
	}
	if !res.Success {
		a.log(schemas.LogError, fmt.Sprintf("Action failed [%s]: %s", res.ErrorCode, res.Error))
	}
	return res
}

// awaitConfirmation parks the session until a human confirms or denies the batch.
// Nothing reaches the browser while parked.
func (a *session) awaitConfirmation(ctx context.Context, d *reasoning.Decision) (outcome, bool) {
	pending := schemas.PendingConfirmation{
		Actions:     append([]schemas.Action(nil), d.Actions...),
		Explanation: d.Explanation,
		RequestedAt: time.Now().UTC(),
	}
	if err := a.transition(schemas.StatusAwaitingConfirmation); err != nil {
		a.logger.Error("Could not park session for confirmation.", zap.Error(err))
		a.fail(err.Error())
		return outcome{}, true
	}
	a.sink.Update(func(v *schemas.LiveView) {
		p := pending
		v.Pending = &p
		v.CurrentAction = ""
	})
	a.log(schemas.LogWarn, fmt.Sprintf("Confirmation required for %d action(s): %s", len(pending.Actions), pending.Explanation))

	for {
		select {
		case <-ctx.Done():
			a.interrupted(ctx)
			return outcome{}, true
		case cmd := <-a.commands:
			switch cmd.kind {
			case cmdConfirm:
				a.sink.Update(func(v *schemas.LiveView) { v.Pending = nil })
				if err := a.transition(schemas.StatusRunning); err != nil {
					cmd.reply <- err
					continue
				}
				cmd.reply <- nil
				a.log(schemas.LogInfo, "Actions confirmed by user.")
				results, done := a.runActions(ctx, pending.Actions)
				return outcome{results: results, acknowledged: true}, done
			case cmdDeny:
				a.sink.Update(func(v *schemas.LiveView) { v.Pending = nil })
				a.log(schemas.LogWarn, "Actions denied by user.")
				a.finish(schemas.StatusCancelled, "")
				cmd.reply <- nil
				return outcome{}, true
			case cmdInstruct:
				a.queueInstruction(cmd)
			default:
				cmd.reply <- a.stoppedError(cmd.kind)
			}
		}
	}
}

// checkpoint drains pending commands and checks the session context. A pause
// blocks here until resume or cancellation.
func (a *session) checkpoint(ctx context.Context) checkpoint {
	result := proceed
	for {
		if a.interrupted(ctx) {
			return stopped
		}
		select {
		case cmd := <-a.commands:
			switch cmd.kind {
			case cmdPause:
				if err := a.transition(schemas.StatusPaused); err != nil {
					cmd.reply <- err
					continue
				}
				a.sink.Update(func(v *schemas.LiveView) { v.CurrentAction = "" })
				a.log(schemas.LogInfo, "Session paused.")
				cmd.reply <- nil
				if !a.park(ctx) {
					return stopped
				}
				result = resumed
			case cmdInstruct:
				a.queueInstruction(cmd)
			default:
				cmd.reply <- a.stoppedError(cmd.kind)
			}
		default:
			return result
		}
	}
}

func (a *session) park(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			a.interrupted(ctx)
			return false
		case cmd := <-a.commands:
			switch cmd.kind {
			case cmdResume:
				if err := a.transition(schemas.StatusRunning); err != nil {
					cmd.reply <- err
					continue
				}
				a.log(schemas.LogInfo, "Session resumed.")
				cmd.reply <- nil
				return true
			case cmdInstruct:
				a.queueInstruction(cmd)
			default:
				cmd.reply <- a.stoppedError(cmd.kind)
			}
		}
	}
}

func (a *session) queueInstruction(cmd command) {
	a.instructions = append(a.instructions, cmd.text)
	a.log(schemas.LogInfo, "Instruction received: "+cmd.text)
	cmd.reply <- nil
}

func (a *session) takeInstructions() string {
	text := strings.Join(a.instructions, "\n")
	a.instructions = nil
	return text
}

// reason runs one adapter round-trip and counts the turn.
func (a *session) reason(ctx context.Context, call func(context.Context) (*reasoning.Decision, error)) (*reasoning.Decision, error) {
	start := time.Now()
	d, err := call(ctx)
	a.svc.recorder.ObserveReasoning(string(a.adapter.Mode()), err == nil, time.Since(start))

	a.turn++
	turn := a.turn
	a.mu.Lock()
	a.record.Turn = turn
	a.mu.Unlock()
	a.sink.Update(func(v *schemas.LiveView) { v.Turn = turn })
	return d, err
}

// observe captures the browser state for the next reasoning call. Capture errors
// leave the corresponding field empty.
func (a *session) observe(ctx context.Context) reasoning.Observation {
	var obs reasoning.Observation
	if a.browser == nil {
		return obs
	}

	if url, err := a.browser.CurrentURL(ctx); err == nil {
		obs.URL = url
		a.setURL(url)
	} else {
		a.logger.Debug("Could not read current URL.", zap.Error(err))
	}
	if title, err := a.browser.Title(ctx); err == nil {
		obs.Title = title
	}
	if shot, err := a.browser.Screenshot(ctx); err == nil {
		obs.Screenshot = shot
		a.saveScreenshot(shot, "", "Observation", obs.URL)
	} else {
		a.logger.Debug("Could not capture screenshot.", zap.Error(err))
	}
	if a.adapter.NeedsPageAnalysis() {
		if analysis, err := a.browser.AnalyzePage(ctx); err == nil {
			obs.Analysis = analysis
		} else {
			a.logger.Warn("Page analysis failed.", zap.Error(err))
		}
	}
	return obs
}

// interrupted finishes the session if its context is done and reports whether it did.
func (a *session) interrupted(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	if a.status().IsTerminal() {
		return true
	}
	switch {
	case a.cancelled.Load():
		a.log(schemas.LogWarn, "Session cancelled.")
		a.finish(schemas.StatusCancelled, "")
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		a.log(schemas.LogError, "Session exceeded its maximum duration.")
		a.finish(schemas.StatusFailed, msgDurationExceeded)
	default:
		a.finish(schemas.StatusCancelled, "")
	}
	return true
}

// abort ends the session after the adapter returned an error.
func (a *session) abort(ctx context.Context, err error) {
	if a.interrupted(ctx) {
		return
	}
	if err == nil {
		err = errors.New("reasoning returned no decision")
	}
	a.fail(fmt.Sprintf("reasoning failed: %v", err))
}

func (a *session) fail(reason string) {
	a.log(schemas.LogError, reason)
	a.finish(schemas.StatusFailed, reason)
}

// finish moves the session to a terminal status and releases the browser.
func (a *session) finish(status schemas.SessionStatus, reason string) {
	if a.status().IsTerminal() {
		return
	}

	a.closeBrowser()

	completedAt := time.Now().UTC()
	mutate := func(r *schemas.AgentSession) {
		r.Error = reason
		r.CompletedAt = &completedAt
	}
	if err := a.transition(status, mutate); err != nil {
		// Terminal states are always reachable; the table is only consulted for the log.
		a.logger.Warn("Forcing terminal status.", zap.Error(err))
		a.mu.Lock()
		a.record.Status = status
		mutate(&a.record)
		record := a.record
		a.mu.Unlock()
		a.sink.Update(func(v *schemas.LiveView) { v.Status = status })
		a.persist(record)
	}
	a.sink.Update(func(v *schemas.LiveView) {
		v.CurrentAction = ""
		v.Pending = nil
	})

	if tasks := a.adapter.Tasks(); len(tasks) > 0 {
		a.saveTasks(tasks)
	}
	if !a.started.IsZero() {
		a.svc.recorder.SessionFinished(string(a.adapter.Mode()), string(status), a.turn, time.Since(a.started))
	}
	a.logger.Info("Session finished.", zap.String("status", string(status)), zap.Int("turns", a.turn), zap.String("reason", reason))
}

// closeBrowser persists a final screenshot and closes the browser, once.
func (a *session) closeBrowser() {
	a.closeOnce.Do(func() {
		if a.browser == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		if shot, err := a.browser.Screenshot(ctx); err == nil {
			url, _ := a.browser.CurrentURL(ctx)
			if url != "" {
				a.setURL(url)
			}
			a.saveScreenshot(shot, "", "Final state", url)
		} else {
			a.logger.Debug("Could not capture final screenshot.", zap.Error(err))
		}
		if err := a.browser.Close(ctx); err != nil {
			a.logger.Warn("Error closing browser.", zap.Error(err))
		}
	})
}

// transition validates and applies a status change, then persists it.
func (a *session) transition(to schemas.SessionStatus, mutate ...func(*schemas.AgentSession)) error {
	a.mu.Lock()
	from := a.record.Status
	if err := checkTransition(from, to); err != nil {
		a.mu.Unlock()
		return err
	}
	a.record.Status = to
	for _, fn := range mutate {
		fn(&a.record)
	}
	record := a.record
	a.mu.Unlock()

	a.sink.Update(func(v *schemas.LiveView) { v.Status = to })
	a.persist(record)
	a.logger.Debug("Session status changed.", zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

func (a *session) setURL(url string) {
	a.mu.Lock()
	a.record.CurrentURL = url
	a.mu.Unlock()
	a.sink.Update(func(v *schemas.LiveView) { v.URL = url })
}

// syncTasks pushes planning progress to the record, the live view and the store.
func (a *session) syncTasks(current *schemas.AgentTask) {
	tasks := a.adapter.Tasks()
	progress := &schemas.TaskProgress{TotalTasks: len(tasks)}
	for _, t := range tasks {
		if t.Status == schemas.TaskCompleted {
			progress.CompletedTasks++
		}
	}
	if current != nil {
		progress.CurrentTask = current.Description
		a.mu.Lock()
		a.record.CurrentTaskID = current.ID
		a.mu.Unlock()
	}
	a.sink.Update(func(v *schemas.LiveView) { v.Progress = progress })
	a.saveTasks(tasks)
}

// -- Persistence. Store errors are logged and never end the session. --

func (a *session) persist(record schemas.AgentSession) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := a.svc.store.UpdateSession(ctx, &record); err != nil {
		a.logger.Error("Failed to persist session.", zap.Error(err))
	}
}

func (a *session) saveTasks(tasks []schemas.AgentTask) {
	for i := range tasks {
		tasks[i].SessionID = a.id
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := a.svc.store.SaveTasks(ctx, a.id, tasks); err != nil {
		a.logger.Error("Failed to persist tasks.", zap.Error(err))
	}
}

func (a *session) saveScreenshot(image, actionID, description, pageURL string) {
	a.sink.Update(func(v *schemas.LiveView) { v.Screenshot = image })

	a.mu.RLock()
	taskID := a.record.CurrentTaskID
	a.mu.RUnlock()

	shot := &schemas.AgentScreenshot{
		ID:          uuidNewString(),
		SessionID:   a.id,
		TaskID:      taskID,
		ActionID:    actionID,
		ImageData:   image,
		PageURL:     pageURL,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := a.svc.store.SaveScreenshot(ctx, shot); err != nil {
		a.logger.Error("Failed to persist screenshot.", zap.Error(err))
	}
}

func (a *session) log(level schemas.LogLevel, message string) {
	entry := a.sink.Log(level, message)
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := a.svc.store.AppendLog(ctx, a.id, entry); err != nil {
		a.logger.Error("Failed to persist log entry.", zap.Error(err))
	}
}
