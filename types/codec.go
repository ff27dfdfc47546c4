package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const kindField = "$type"

var decoders = map[MessageKind]func([]byte) (Message, error){
	KindAssemblyStarting:         decode[AssemblyStarting],
	KindAssemblyFinished:         decode[AssemblyFinished],
	KindAssemblyCleanupFailure:   decode[AssemblyCleanupFailure],
	KindCollectionStarting:       decode[CollectionStarting],
	KindCollectionFinished:       decode[CollectionFinished],
	KindCollectionCleanupFailure: decode[CollectionCleanupFailure],
	KindClassStarting:            decode[ClassStarting],
	KindClassFinished:            decode[ClassFinished],
	KindClassCleanupFailure:      decode[ClassCleanupFailure],
	KindMethodStarting:           decode[MethodStarting],
	KindMethodFinished:           decode[MethodFinished],
	KindTestCaseStarting:         decode[TestCaseStarting],
	KindTestCaseFinished:         decode[TestCaseFinished],
	KindTestStarting:             decode[TestStarting],
	KindTestPassed:               decode[TestPassed],
	KindTestFailed:               decode[TestFailed],
	KindTestSkipped:              decode[TestSkipped],
	KindTestNotRun:               decode[TestNotRun],
	KindTestFinished:             decode[TestFinished],
	KindTestOutput:               decode[TestOutput],
	KindTestCleanupFailure:       decode[TestCleanupFailure],
	KindDiagnostic:               decode[DiagnosticMessage],
	KindLongRunningTests:         decode[LongRunningTests],
	KindError:                    decode[ErrorMessage],
}

func decode[T Message](data []byte) (Message, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// MarshalMessage encodes msg as a JSON object whose "$type" field holds the
// message kind.
func MarshalMessage(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("cannot marshal nil message")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", msg.Kind(), err)
	}
	kind, err := json.Marshal(string(msg.Kind()))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"` + kindField + `":`)
	buf.Write(kind)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalMessage decodes a message produced by MarshalMessage.
func UnmarshalMessage(data []byte) (Message, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode message envelope: %w", err)
	}
	raw, ok := envelope[kindField]
	if !ok {
		return nil, fmt.Errorf("message is missing %q discriminator", kindField)
	}
	var kind MessageKind
	if err := json.Unmarshal(raw, &kind); err != nil {
		return nil, fmt.Errorf("invalid %q discriminator: %w", kindField, err)
	}
	dec, ok := decoders[kind]
	if !ok {
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}
	msg, err := dec(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", kind, err)
	}
	return msg, nil
}
