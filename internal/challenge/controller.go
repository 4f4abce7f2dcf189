package challenge

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tungdop2/RedTeam/internal/commit"
	"github.com/tungdop2/RedTeam/internal/container"
	"github.com/tungdop2/RedTeam/internal/vmetrics"
)

// State is one step of the per-challenge, per-epoch state machine (spec
// section 4.C).
type State string

const (
	StateInit          State = "INIT"
	StateGraderUp      State = "GRADER_UP"
	StateTasksFetched  State = "TASKS_FETCHED"
	StateMinerUp       State = "MINER_UP"
	StateSolving       State = "SOLVING"
	StateScored        State = "SCORED"
	StateMinerDown     State = "MINER_DOWN"
	StateGraderDown    State = "GRADER_DOWN"
	StateDone          State = "DONE"
)

// Dependencies bundles a Controller's collaborators, injected so tests
// can substitute a fake container engine and a local HTTP server.
type Dependencies struct {
	Engine              container.Engine
	HTTPClient          *http.Client
	ChallengePort       int
	MinerPort           int
	NetworkName         string
	NChallengesPerEpoch int
	ScoreTimeout        time.Duration
}

// Controller drives one challenge's per-epoch state machine (spec section
// 4.C's contract `{start, stop, score}`, generalized into a single Run
// call since every step is sequential and unconditional on success).
type Controller struct {
	desc  Descriptor
	deps  Dependencies
	state State
}

// NewController is the Factory registered for every production
// challenge.
func NewController(desc Descriptor, deps Dependencies) *Controller {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{}
	}
	if deps.ScoreTimeout <= 0 {
		deps.ScoreTimeout = 30 * time.Second
	}
	return &Controller{desc: desc, deps: deps, state: StateInit}
}

// State returns the controller's current state, mainly for tests and
// diagnostics.
func (c *Controller) State() State { return c.state }

// Run executes spec section 4.C's full algorithm for one epoch: bring up
// the grader, pre-fetch tasks, run each submission in order, and tear
// everything down. It never returns an error; failures are folded into
// an empty or partial Result per the error-handling table.
func (c *Controller) Run(ctx context.Context, submissions []Submission) Result {
	result := Result{Challenge: c.desc.Name}

	graderTag := fmt.Sprintf("challenge-%s:latest", c.desc.Name)
	graderName := fmt.Sprintf("%s-grader", c.desc.Name)

	if err := c.deps.Engine.Build(ctx, c.desc.BuildDir, graderTag); err != nil {
		logger.Error("grader build failed", "challenge", c.desc.Name, "err", err)
		return result
	}
	if err := c.deps.Engine.RemoveByName(ctx, graderName); err != nil {
		logger.Warn("grader removal failed", "challenge", c.desc.Name, "err", err)
	}
	if err := c.deps.Engine.RemoveByPort(ctx, c.deps.ChallengePort); err != nil {
		logger.Warn("clearing grader port failed", "challenge", c.desc.Name, "err", err)
	}
	if err := c.deps.Engine.EnsureNetwork(ctx, c.deps.NetworkName); err != nil {
		logger.Error("network setup failed", "challenge", c.desc.Name, "err", err)
		return result
	}

	c.state = StateInit
	if _, err := c.deps.Engine.Run(ctx, graderTag, container.RunOptions{
		Name:        graderName,
		HostPort:    c.deps.ChallengePort,
		NetworkName: c.deps.NetworkName,
		Env:         map[string]string{"CHALLENGE_NAME": c.desc.Name},
	}); err != nil {
		logger.Error("grader start failed", "challenge", c.desc.Name, "err", err)
		return result
	}
	defer c.deps.Engine.RemoveByName(ctx, graderName)

	if !c.deps.Engine.WaitHealthy(ctx, c.deps.ChallengePort, c.desc.GraderScheme, c.desc.GraderVerifyTLS, c.desc.RunTimeout) {
		logger.Warn("grader never became healthy", "challenge", c.desc.Name)
		return result
	}
	c.state = StateGraderUp

	tasks := c.fetchTasks(ctx)
	c.state = StateTasksFetched

	for _, sub := range submissions {
		entries := c.runSubmission(ctx, sub, tasks)
		result.Logs = append(result.Logs, entries...)
	}

	if c.desc.DetectDuplicateOutputs {
		detectDuplicateOutputs(result.Logs)
	}

	c.state = StateGraderDown
	c.state = StateDone
	return result
}

// fetchTasks pre-fetches NChallengesPerEpoch task objects from the
// grader (spec section 4.C step 3).
func (c *Controller) fetchTasks(ctx context.Context) []Task {
	n := c.deps.NChallengesPerEpoch
	if n <= 0 {
		n = 1
	}
	tasks := make([]Task, 0, n)
	for i := 0; i < n; i++ {
		var task Task
		if err := c.getJSON(ctx, c.graderURL("/task"), c.desc.GraderVerifyTLS, &task); err != nil {
			logger.Warn("task fetch failed", "challenge", c.desc.Name, "err", err)
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// runSubmission implements spec section 4.C steps 4.a-4.f for a single
// miner submission, returning its log entries.
func (c *Controller) runSubmission(ctx context.Context, sub Submission, tasks []Task) []LogEntry {
	if !commit.ValidImageRef(sub.ImageRef) {
		logger.Warn("skipping submission with invalid image ref", "miner_id", sub.MinerID, "image_ref", sub.ImageRef)
		return nil
	}

	if err := c.deps.Engine.RemoveByPort(ctx, c.deps.MinerPort); err != nil {
		logger.Warn("clearing miner port failed", "miner_id", sub.MinerID, "err", err)
	}

	minerName := fmt.Sprintf("%s-miner-%s", c.desc.Name, sub.MinerID)
	env := make(map[string]string, len(c.desc.Environment)+1)
	for k, v := range c.desc.Environment {
		env[k] = v
	}
	env["CHALLENGE_NAME"] = c.desc.Name

	if _, err := c.deps.Engine.Run(ctx, sub.ImageRef, container.RunOptions{
		Name:        minerName,
		HostPort:    c.deps.MinerPort,
		CPUs:        c.desc.CPUs,
		MemoryBytes: c.desc.MemoryBytes,
		Env:         env,
		NetworkName: c.deps.NetworkName,
		GPUIDs:      c.desc.GPUIDs,
	}); err != nil {
		logger.Warn("miner start failed", "miner_id", sub.MinerID, "err", err)
		return zeroScoreLogs(sub.MinerID, tasks)
	}
	c.state = StateMinerUp
	defer func() {
		if err := c.deps.Engine.RemoveByName(ctx, minerName); err != nil {
			logger.Warn("miner removal failed", "miner_id", sub.MinerID, "err", err)
		}
		c.state = StateMinerDown
	}()

	if !c.deps.Engine.WaitHealthy(ctx, c.deps.MinerPort, c.desc.MinerScheme, c.desc.MinerVerifyTLS, c.desc.RunTimeout) {
		logger.Warn("miner never became healthy", "miner_id", sub.MinerID)
		return zeroScoreLogs(sub.MinerID, tasks)
	}

	c.state = StateSolving
	entries := make([]LogEntry, 0, len(tasks))
	for _, task := range tasks {
		input := blankExcludedKeys(task, c.desc.ExcludeMinerInputKeys)

		output := c.solve(ctx, input)
		score := c.score(ctx, input, output)

		entries = append(entries, LogEntry{
			MinerID:     sub.MinerID,
			MinerInput:  input,
			MinerOutput: output,
			Score:       score,
		})
	}
	c.state = StateScored
	return entries
}

// zeroScoreLogs records a 0 score for every task, used when a miner
// container fails to come up healthy (spec section 4.C step 4.d).
func zeroScoreLogs(minerID string, tasks []Task) []LogEntry {
	entries := make([]LogEntry, 0, len(tasks))
	for _, task := range tasks {
		entries = append(entries, LogEntry{MinerID: minerID, MinerInput: task, MinerOutput: nil, Score: 0})
	}
	return entries
}

// blankExcludedKeys returns a copy of task with every key in
// excludeKeys zeroed to nil, per spec section 4.C step 4.e.
func blankExcludedKeys(task Task, excludeKeys []string) Task {
	excluded := make(map[string]bool, len(excludeKeys))
	for _, k := range excludeKeys {
		excluded[k] = true
	}
	out := make(Task, len(task))
	for k, v := range task {
		if excluded[k] {
			out[k] = nil
			continue
		}
		out[k] = v
	}
	return out
}

// solve POSTs input to the miner's /solve endpoint, returning nil on any
// error (spec section 4.C step 4.e: "capture the output, null on
// error").
func (c *Controller) solve(ctx context.Context, input Task) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, c.desc.SolveTimeout)
	defer cancel()

	var output map[string]any
	if err := c.postJSON(ctx, c.minerURL("/solve"), c.desc.MinerVerifyTLS, input, &output); err != nil {
		logger.Warn("solve failed", "challenge", c.desc.Name, "err", err)
		vmetrics.SubmissionErrors.Inc()
		return nil
	}
	return output
}

// score POSTs {miner_input, miner_output} to the grader's /score
// endpoint, returning 0 on any error (spec section 4.C step 4.e).
func (c *Controller) score(ctx context.Context, input Task, output map[string]any) float64 {
	ctx, cancel := context.WithTimeout(ctx, c.deps.ScoreTimeout)
	defer cancel()

	body := map[string]any{"miner_input": input, "miner_output": output}
	var score float64
	if err := c.postJSON(ctx, c.graderURL("/score"), c.desc.GraderVerifyTLS, body, &score); err != nil {
		logger.Warn("score failed", "challenge", c.desc.Name, "err", err)
		vmetrics.SubmissionErrors.Inc()
		return 0
	}
	return score
}

func (c *Controller) graderURL(path string) string {
	return fmt.Sprintf("%s://localhost:%d%s", c.desc.GraderScheme, c.deps.ChallengePort, path)
}

func (c *Controller) minerURL(path string) string {
	return fmt.Sprintf("%s://localhost:%d%s", c.desc.MinerScheme, c.deps.MinerPort, path)
}

func (c *Controller) httpClientFor(verifyTLS bool) *http.Client {
	if verifyTLS {
		return c.deps.HTTPClient
	}
	return &http.Client{
		Timeout:   c.deps.HTTPClient.Timeout,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}},
	}
}

func (c *Controller) getJSON(ctx context.Context, url string, verifyTLS bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClientFor(verifyTLS).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Controller) postJSON(ctx context.Context, url string, verifyTLS bool, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClientFor(verifyTLS).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
