package httpx

import (
	"bytes"
	"net/http"
)

// ResponseBuffer captures a handler's response so middleware can
// inspect the status before deciding whether to forward it.
type ResponseBuffer interface {
	http.ResponseWriter
	Status() int
	Body() []byte
	Flush(w http.ResponseWriter) error
}

type responseBuffer struct {
	status int
	header http.Header
	body   *bytes.Buffer
}

func NewResponseBuffer() ResponseBuffer {
	return &responseBuffer{}
}

func (buf *responseBuffer) Status() int {
	return buf.status
}

func (buf *responseBuffer) Header() http.Header {
	if buf.header == nil {
		buf.header = http.Header{}
	}
	return buf.header
}

func (buf *responseBuffer) Body() []byte {
	return buf.body.Bytes()
}

func (buf *responseBuffer) Write(body []byte) (int, error) {
	if buf.body == nil {
		buf.body = &bytes.Buffer{}
	}
	return buf.body.Write(body)
}

func (buf *responseBuffer) WriteHeader(statusCode int) {
	buf.status = statusCode
}

func (buf *responseBuffer) Flush(w http.ResponseWriter) error {
	if buf.header != nil {
		header := w.Header()
		for key, value := range buf.header {
			header[key] = value
		}
	}
	if buf.status != 0 {
		w.WriteHeader(buf.status)
	}
	if buf.body != nil {
		_, err := w.Write(buf.body.Bytes())
		return err
	}
	return nil
}
