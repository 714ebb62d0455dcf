package worker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facefinder/internal/detector"
	"facefinder/internal/logger"
	"facefinder/internal/model"
	"facefinder/internal/pipeline"
	"facefinder/internal/protocol"
)

// stubDetector stands in for the general-family environment.
type stubDetector struct{}

func (stubDetector) Load(modelID string) error { return nil }

func (stubDetector) Detect(imagePath string, confidence float64) ([]model.Detection, error) {
	return nil, nil
}

type loopHarness struct {
	t      *testing.T
	stdin  *io.PipeWriter
	out    *bufio.Scanner
	done   chan error
	events chan model.Event
}

func startLoop(t *testing.T) *loopHarness {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	registry := detector.NewRegistry()
	registry.Register(detector.FamilyGeneral, stubDetector{})
	events := make(chan model.Event, 64)
	log := logger.NewStderrLogger()
	engine := pipeline.New(registry, nil, events, log)
	loop := NewLoop(inR, outW, registry, engine, events, log)

	h := &loopHarness{
		t:      t,
		stdin:  inW,
		out:    bufio.NewScanner(outR),
		done:   make(chan error, 1),
		events: events,
	}
	go func() { h.done <- loop.Run() }()

	t.Cleanup(func() { inW.Close() })

	// Consume the ready handshake.
	env := h.readLine()
	require.Equal(t, protocol.TypeReady, env.Type)

	return h
}

func (h *loopHarness) send(line string) {
	h.t.Helper()
	_, err := h.stdin.Write([]byte(line + "\n"))
	require.NoError(h.t, err)
}

func (h *loopHarness) readLine() protocol.Envelope {
	h.t.Helper()
	lines := make(chan string, 1)
	go func() {
		if h.out.Scan() {
			lines <- h.out.Text()
		}
	}()
	select {
	case line := <-lines:
		var env protocol.Envelope
		require.NoError(h.t, json.Unmarshal([]byte(line), &env))
		return env
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for worker output")
		return protocol.Envelope{}
	}
}

func (h *loopHarness) call(id int, reqType string, data string) protocol.Envelope {
	h.t.Helper()
	line := fmt.Sprintf(`{"type":%q,"id":%d`, reqType, id)
	if data != "" {
		line += `,"data":` + data
	}
	line += "}"
	h.send(line)

	for {
		env := h.readLine()
		if env.Type != protocol.TypeResponse {
			// Events may interleave with responses at any point.
			continue
		}
		require.NotNil(h.t, env.ID)
		require.Equal(h.t, id, *env.ID)
		return env
	}
}

func responseBody(t *testing.T, env protocol.Envelope) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Response, &body))
	return body
}

func TestPingPong(t *testing.T) {
	h := startLoop(t)

	body := responseBody(t, h.call(1, "ping", ""))
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "pong", body["message"])
}

func TestUnknownCommandType(t *testing.T) {
	h := startLoop(t)

	body := responseBody(t, h.call(1, "frobnicate", ""))
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "Unknown command type: frobnicate", body["message"])
}

func TestInvalidJSONLine(t *testing.T) {
	h := startLoop(t)

	h.send("this is not json")
	env := h.readLine()
	assert.Equal(t, protocol.TypeError, env.Type)
	assert.Contains(t, env.Message, "Invalid JSON")
	assert.Nil(t, env.ID)

	// The loop keeps serving after a protocol error.
	body := responseBody(t, h.call(2, "ping", ""))
	assert.Equal(t, "success", body["status"])
}

func TestBlankLinesAreIgnored(t *testing.T) {
	h := startLoop(t)

	h.send("")
	h.send("   ")
	body := responseBody(t, h.call(1, "ping", ""))
	assert.Equal(t, "pong", body["message"])
}

func TestLoadModelForAbsentFamilyLeavesWorkerAlive(t *testing.T) {
	h := startLoop(t)

	body := responseBody(t, h.call(1, "load_model", `{"model_path":"retinaface"}`))
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["message"], "face")
	assert.Contains(t, body["message"], "retinaface")

	body = responseBody(t, h.call(2, "ping", ""))
	assert.Equal(t, "success", body["status"])
}

func TestGetStatusIdempotentWithoutActivity(t *testing.T) {
	h := startLoop(t)

	first := responseBody(t, h.call(1, "get_status", ""))
	second := responseBody(t, h.call(2, "get_status", ""))
	assert.Equal(t, first["status_info"], second["status_info"])

	info, ok := first["status_info"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, info["is_processing"])
	assert.Equal(t, float64(0), info["results_count"])
}

func TestGetModelsListsCatalog(t *testing.T) {
	h := startLoop(t)

	body := responseBody(t, h.call(1, "get_models", ""))
	assert.Equal(t, "success", body["status"])
	assert.NotEmpty(t, body["models"])
}

func TestEchoRoundTrip(t *testing.T) {
	h := startLoop(t)

	body := responseBody(t, h.call(1, "echo", `{"text":"hello"}`))
	assert.Equal(t, "hello", body["message"])
}

func TestExitRespondsThenTerminates(t *testing.T) {
	h := startLoop(t)

	body := responseBody(t, h.call(1, "exit", ""))
	assert.Equal(t, "success", body["status"])

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not terminate after exit")
	}
}
