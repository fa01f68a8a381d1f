package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OpenResponse bridges the channel into a response-shaped value a generic
// HTTP client abstraction can consume: status, headers marking an
// incremental text stream, and the pull-based body. invoke triggers the
// backend call; listeners are already registered by the time it runs.
//
// If the invocation rejects before any byte is produced, the caller gets a
// well-formed error response instead of a failed stream.
func OpenResponse(ch *Emitter, invoke func() error) *http.Response {
	bridge := NewBridge(ch)
	bridge.Start(invoke)

	if err := bridge.Err(); err != nil {
		_ = bridge.Close()
		return errorResponse(err)
	}

	header := make(http.Header)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("X-Chat-Stream", "v1")

	return &http.Response{
		Status:     fmt.Sprintf("%d %s", http.StatusOK, http.StatusText(http.StatusOK)),
		StatusCode: http.StatusOK,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     header,
		Body:       bridge,
	}
}

// errorResponse builds a well-formed JSON error response for failures that
// happen before the stream produced any bytes.
func errorResponse(err error) *http.Response {
	body, marshalErr := json.Marshal(map[string]string{
		"error":   "failed to process chat request",
		"details": err.Error(),
	})
	if marshalErr != nil {
		body = []byte(`{"error":"failed to process chat request"}`)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", http.StatusBadGateway, http.StatusText(http.StatusBadGateway)),
		StatusCode:    http.StatusBadGateway,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}
