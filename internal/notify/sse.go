package notify

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
)

// SSESink writes frames as Server-Sent Events:
//
//	id: 3
//	event: QueuePosition
//	data: {"eventId":3,"type":"QueuePosition",...}
type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSESink fails when w cannot flush, since buffered events would never arrive.
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("notify: response writer does not support flushing")
	}
	return &SSESink{w: w, flusher: flusher}, nil
}

func (s *SSESink) Open() error {
	header := s.w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
	return nil
}

func (s *SSESink) Write(frame Frame) error {
	if _, err := s.w.Write(formatSSE(frame)); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *SSESink) Close() error {
	return nil
}

func formatSSE(frame Frame) []byte {
	var b bytes.Buffer
	b.WriteString("id: ")
	b.WriteString(strconv.FormatUint(frame.ID, 10))
	b.WriteString("\nevent: ")
	b.WriteString(frame.Type)
	// Encoded JSON never contains raw newlines, so one data line suffices.
	b.WriteString("\ndata: ")
	b.Write(frame.Data)
	b.WriteString("\n\n")
	return b.Bytes()
}
