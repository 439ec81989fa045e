package llm

import (
	"bufio"
	"io"
	"strings"
)

// sseDecoder reads "data: ..." lines from an SSE stream, tolerating chunk
// boundaries that split a line across reads (bufio.Scanner already
// reassembles partial lines internally; this just strips the "data:"
// envelope and recognizes the "[DONE]" sentinel).
type sseDecoder struct {
	scanner *bufio.Scanner
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseDecoder{scanner: scanner}
}

// Next returns the next data payload, or done=true once the stream ends or
// emits "[DONE]".
func (d *sseDecoder) Next() (chunk string, done bool, err error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return "", true, nil
		}
		return payload, false, nil
	}
	if err := d.scanner.Err(); err != nil {
		return "", false, err
	}
	return "", true, nil
}
