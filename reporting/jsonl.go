package reporting

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testexec/types"
)

// JSONLinesWriter writes every message as one JSON object per line, in the
// encoding produced by types.MarshalMessage.
type JSONLinesWriter struct {
	log log.Logger

	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	err    error
}

func NewJSONLinesWriter(w io.Writer, logger log.Logger) *JSONLinesWriter {
	return &JSONLinesWriter{log: logger, w: bufio.NewWriter(w)}
}

// CreateJSONLinesFile creates (or truncates) path and returns a writer for it.
// Close must be called to flush and close the file.
func CreateJSONLinesFile(path string, logger log.Logger) (*JSONLinesWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := NewJSONLinesWriter(f, logger)
	w.closer = f
	return w, nil
}

// OnMessage never asks the run to stop. The first write error is kept and
// reported by Flush and Close; later messages are dropped.
func (j *JSONLinesWriter) OnMessage(msg types.Message) bool {
	data, err := types.MarshalMessage(msg)
	if err != nil {
		j.log.Error("Failed to encode message", "kind", msg.Kind(), "err", err)
		return true
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return true
	}
	if _, err := j.w.Write(append(data, '\n')); err != nil {
		j.err = err
		j.log.Error("Failed to write message", "kind", msg.Kind(), "err", err)
		return true
	}
	// flush at scope boundaries so readers see complete scopes
	switch msg.(type) {
	case types.TestCaseFinished, types.CollectionFinished, types.AssemblyFinished:
		j.err = j.w.Flush()
	}
	return true
}

func (j *JSONLinesWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.err = j.w.Flush()
	return j.err
}

func (j *JSONLinesWriter) Close() error {
	err := j.Flush()
	if j.closer != nil {
		if cerr := j.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ReadJSONLines decodes a stream written by JSONLinesWriter.
func ReadJSONLines(r io.Reader) ([]types.Message, error) {
	var messages []types.Message
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		msg, err := types.UnmarshalMessage(scanner.Bytes())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}
