package docker_image

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// DockerEngineLogString is one line of the JSON stream returned by build and push.
type DockerEngineLogString struct {
	Stream   string `json:"stream,omitempty"`
	Status   string `json:"status,omitempty"`
	ID       string `json:"id,omitempty"`
	Progress string `json:"progress,omitempty"`
}

type ErrorLine struct {
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func (l DockerEngineLogString) text() string {
	switch {
	case l.Stream != "":
		return l.Stream
	case l.Status != "" && l.ID != "":
		return l.ID + ": " + l.Status
	default:
		return l.Status
	}
}

// PrintLog drains the docker engine stream, logging each message, and returns
// the first error the engine reported in it.
func PrintLog(rd io.Reader) error {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()

		var errLine ErrorLine
		if err := json.Unmarshal(line, &errLine); err == nil && errLine.Error != "" {
			return errors.New(errLine.Error)
		}

		var logString DockerEngineLogString
		if err := json.Unmarshal(line, &logString); err != nil {
			continue // skip invalid json
		}
		// Progress bars are only useful on an interactive docker CLI.
		if logString.Progress != "" {
			continue
		}
		if lg := strings.TrimSpace(logString.text()); lg != "" {
			slog.Debug(lg)
		}
	}
	return scanner.Err()
}
