package client

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// readSSE calls onEvent with the JSON payload of each "data:" event until
// the stream ends or a [DONE] sentinel arrives. Payloads that are not valid
// JSON are skipped.
func readSSE(r io.Reader, onEvent func(json.RawMessage) error) error {
	reader := bufio.NewReader(r)
	var data strings.Builder

	dispatch := func() (bool, error) {
		payload := strings.TrimSpace(data.String())
		data.Reset()
		if payload == "" {
			return false, nil
		}
		if payload == "[DONE]" {
			return true, nil
		}
		if !json.Valid([]byte(payload)) {
			return false, nil
		}
		return false, onEvent(json.RawMessage(payload))
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		eof := err == io.EOF

		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			done, cbErr := dispatch()
			if cbErr != nil || done {
				return cbErr
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}

		if eof {
			_, cbErr := dispatch()
			return cbErr
		}
	}
}
