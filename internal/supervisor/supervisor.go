// Package supervisor manages the lifetime of one worker subprocess: it
// spawns the process, performs the ready handshake, correlates RPC responses
// to their requests, and drains the worker's asynchronous event stream into
// a sink. If the process dies mid-job the supervisor synthesizes the final
// completion event so observers are never left waiting.
package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"facefinder/internal/logger"
	"facefinder/internal/model"
	"facefinder/internal/protocol"
)

var (
	ErrNotRunning  = errors.New("worker is not running")
	ErrWorkerDied  = errors.New("worker process terminated")
	ErrCallTimeout = errors.New("worker call timed out")
)

const stopGracePeriod = 2 * time.Second

// EventSink receives every event the worker emits, including any
// synthesized completion on worker death.
type EventSink func(model.Event)

type Supervisor struct {
	logger       *logger.Logger
	sink         EventSink
	startTimeout time.Duration

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	nextID     int
	pending    map[int]chan json.RawMessage
	processing bool
	running    bool
	died       bool          // the last worker exited instead of being stopped
	closed     chan struct{} // closed when the worker stream ends
	ready      chan struct{}

	writeMu sync.Mutex
	waitErr chan error
}

func New(sink EventSink, startTimeout time.Duration, log *logger.Logger) *Supervisor {
	return &Supervisor{
		logger:       log,
		sink:         sink,
		startTimeout: startTimeout,
	}
}

// Start launches the worker command and blocks until the ready handshake
// arrives or the start timeout elapses.
func (s *Supervisor) Start(cmd *exec.Cmd) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("worker already running")
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to start worker process: %w", err)
	}

	s.cmd = cmd
	s.attachLocked(stdin, stdout)
	s.waitErr = make(chan error, 1)
	s.mu.Unlock()

	go s.logStderr(stderr)
	go s.waitProcess(cmd)

	s.logger.Info("Worker process started (pid %d)", cmd.Process.Pid)

	select {
	case <-s.ready:
		return nil
	case <-s.closed:
		return fmt.Errorf("worker exited before ready handshake")
	case <-time.After(s.startTimeout):
		cmd.Process.Kill()
		return fmt.Errorf("worker did not become ready within %s", s.startTimeout)
	}
}

// attachLocked wires the supervisor to a worker's streams and starts the
// read loop. Split out from Start so tests can drive a supervisor over
// in-memory pipes without a real process.
func (s *Supervisor) attachLocked(stdin io.WriteCloser, stdout io.Reader) {
	s.stdin = stdin
	s.pending = make(map[int]chan json.RawMessage)
	s.processing = false
	s.running = true
	s.died = false
	s.closed = make(chan struct{})
	s.ready = make(chan struct{})
	go s.readLoop(stdout)
}

// Call sends one request to the worker and waits for its correlated
// response.
func (s *Supervisor) Call(ctx context.Context, reqType string, data interface{}) (json.RawMessage, error) {
	s.mu.Lock()
	if !s.running {
		died := s.died
		s.mu.Unlock()
		if died {
			return nil, ErrWorkerDied
		}
		return nil, ErrNotRunning
	}
	s.nextID++
	id := s.nextID
	ch := make(chan json.RawMessage, 1)
	s.pending[id] = ch
	closed := s.closed
	stdin := s.stdin
	s.mu.Unlock()

	req := map[string]interface{}{"type": reqType, "id": id}
	if data != nil {
		req["data"] = data
	}
	line, err := json.Marshal(req)
	if err != nil {
		s.dropPending(id)
		return nil, err
	}

	select {
	case <-closed:
		s.dropPending(id)
		return nil, ErrWorkerDied
	default:
	}

	s.writeMu.Lock()
	_, err = stdin.Write(append(line, '\n'))
	s.writeMu.Unlock()
	if err != nil {
		s.dropPending(id)
		return nil, fmt.Errorf("failed to write to worker: %w", err)
	}

	select {
	case resp := <-ch:
		if reqType == "start_processing" && responseOK(resp) {
			s.setProcessing(true)
		}
		return resp, nil
	case <-closed:
		return nil, ErrWorkerDied
	case <-ctx.Done():
		s.dropPending(id)
		return nil, ctx.Err()
	}
}

// Stop asks the worker to exit and kills it if it does not comply within
// the grace period.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cmd := s.cmd
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), stopGracePeriod)
	defer cancel()
	s.Call(ctx, "exit", nil)

	s.writeMu.Lock()
	s.stdin.Close()
	s.writeMu.Unlock()

	if cmd == nil {
		return
	}
	select {
	case <-s.waitErr:
	case <-time.After(stopGracePeriod):
		s.logger.Warning("Worker did not exit in time, killing")
		cmd.Process.Kill()
		<-s.waitErr
	}

	s.mu.Lock()
	s.running = false
	s.died = false
	s.mu.Unlock()
}

// Alive reports whether the worker stream is still open.
func (s *Supervisor) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

// readLoop drains the worker's output stream, delivering responses to
// their waiting callers and events to the sink.
func (s *Supervisor) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			s.logger.Warning("Unparseable worker output: %.120s", line)
			continue
		}

		switch env.Type {
		case protocol.TypeReady:
			s.markReady()
		case protocol.TypeResponse:
			s.deliverResponse(env)
		case protocol.TypeEvent:
			if env.Event != nil {
				s.handleEvent(*env.Event)
			}
		case protocol.TypeError:
			s.logger.Warning("Worker protocol error: %s", env.Message)
		default:
			s.logger.Warning("Unknown worker message type: %s", env.Type)
		}
	}

	s.handleStreamClosed()
}

func (s *Supervisor) markReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
}

func (s *Supervisor) deliverResponse(env protocol.Envelope) {
	if env.ID == nil {
		s.logger.Warning("Worker response without an id")
		return
	}
	s.mu.Lock()
	ch, ok := s.pending[*env.ID]
	delete(s.pending, *env.ID)
	s.mu.Unlock()
	if ok {
		ch <- env.Response
	}
}

func (s *Supervisor) handleEvent(ev model.Event) {
	if ev.Kind == model.EventCompletion {
		s.setProcessing(false)
	}
	if s.sink != nil {
		s.sink(ev)
	}
}

// handleStreamClosed runs exactly once per worker lifetime, when the output
// stream ends. A job that was still in flight gets a synthesized failed
// completion, since the dead worker can no longer emit its own.
func (s *Supervisor) handleStreamClosed() {
	s.mu.Lock()
	wasProcessing := s.processing
	s.processing = false
	select {
	case <-s.closed:
		s.mu.Unlock()
		return
	default:
		close(s.closed)
	}
	s.running = false
	s.died = true
	stdin := s.stdin
	s.pending = make(map[int]chan json.RawMessage)
	s.mu.Unlock()

	// Closing stdin without taking writeMu: a caller may be parked inside
	// Write on the dead pipe while holding writeMu, and Close is what
	// unblocks it.
	if stdin != nil {
		stdin.Close()
	}

	s.logger.Warning("Worker output stream closed")

	if wasProcessing && s.sink != nil {
		s.sink(model.NewEvent(model.EventCompletion, model.Completion{
			Status: "failed",
			Error:  "worker process terminated unexpectedly",
		}))
	}
}

func (s *Supervisor) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		s.logger.Info("[worker] %s", scanner.Text())
	}
}

func (s *Supervisor) waitProcess(cmd *exec.Cmd) {
	err := cmd.Wait()
	if err != nil {
		s.logger.Warning("Worker process exited: %v", err)
	}
	s.waitErr <- err
}

func (s *Supervisor) setProcessing(v bool) {
	s.mu.Lock()
	s.processing = v
	s.mu.Unlock()
}

func (s *Supervisor) dropPending(id int) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func responseOK(resp json.RawMessage) bool {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp, &body); err != nil {
		return false
	}
	return body.Status == "success"
}
