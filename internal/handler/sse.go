package handler

import (
	"bytes"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// eventStream writes Server-Sent Events.
type eventStream struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// startEventStream sends the stream headers. Writes on the returned stream
// are flushed immediately.
func startEventStream(w http.ResponseWriter) (*eventStream, error) {
	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := rc.Flush(); err != nil {
		return nil, errors.Wrap(err, "flush")
	}
	return &eventStream{w: w, rc: rc}, nil
}

// send writes one event whose data is the JSON produced by encode.
func (s *eventStream) send(event string, encode func(e *jx.Encoder)) error {
	var e jx.Encoder
	encode(&e)

	var buf bytes.Buffer
	buf.WriteString("event: ")
	buf.WriteString(event)
	buf.WriteString("\ndata: ")
	buf.Write(e.Bytes())
	buf.WriteString("\n\n")

	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	return s.rc.Flush()
}

// ping writes a comment line that keeps proxies from closing an idle stream.
func (s *eventStream) ping() error {
	if _, err := s.w.Write([]byte(": ping\n\n")); err != nil {
		return err
	}
	return s.rc.Flush()
}
