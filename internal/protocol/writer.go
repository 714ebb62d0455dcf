package protocol

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	"facefinder/internal/model"
)

// Writer serializes outbound envelopes onto a single stream. The RPC loop
// and the pipeline's event forwarder share one Writer, so every write is
// taken under the mutex and flushed as a whole line to keep the stream free
// of interleaved JSON.
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (w *Writer) write(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(data); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

// WriteReady emits the one-time startup handshake.
func (w *Writer) WriteReady(message string) error {
	return w.write(Envelope{Type: TypeReady, Message: message})
}

// WriteError emits a protocol-level error with no correlation ID.
func (w *Writer) WriteError(message string) error {
	return w.write(Envelope{Type: TypeError, Message: message})
}

// WriteResponse emits the response correlated to a request ID. Requests
// that carried no ID still get a response line, just without one.
func (w *Writer) WriteResponse(id *int, result Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return w.write(Envelope{Type: TypeResponse, ID: id, Response: data})
}

// WriteEvent emits an asynchronous event line.
func (w *Writer) WriteEvent(ev model.Event) error {
	return w.write(Envelope{Type: TypeEvent, Event: &ev})
}
