package types

import (
	"time"
)

// MessageKind is the serialization discriminator of a Message. Every concrete
// message type maps to exactly one kind.
type MessageKind string

const (
	KindAssemblyStarting       MessageKind = "test-assembly-starting"
	KindAssemblyFinished       MessageKind = "test-assembly-finished"
	KindAssemblyCleanupFailure MessageKind = "test-assembly-cleanup-failure"

	KindCollectionStarting       MessageKind = "test-collection-starting"
	KindCollectionFinished       MessageKind = "test-collection-finished"
	KindCollectionCleanupFailure MessageKind = "test-collection-cleanup-failure"

	KindClassStarting       MessageKind = "test-class-starting"
	KindClassFinished       MessageKind = "test-class-finished"
	KindClassCleanupFailure MessageKind = "test-class-cleanup-failure"

	KindMethodStarting MessageKind = "test-method-starting"
	KindMethodFinished MessageKind = "test-method-finished"

	KindTestCaseStarting MessageKind = "test-case-starting"
	KindTestCaseFinished MessageKind = "test-case-finished"

	KindTestStarting       MessageKind = "test-starting"
	KindTestPassed         MessageKind = "test-passed"
	KindTestFailed         MessageKind = "test-failed"
	KindTestSkipped        MessageKind = "test-skipped"
	KindTestNotRun         MessageKind = "test-not-run"
	KindTestFinished       MessageKind = "test-finished"
	KindTestOutput         MessageKind = "test-output"
	KindTestCleanupFailure MessageKind = "test-cleanup-failure"

	KindDiagnostic       MessageKind = "diagnostic-message"
	KindLongRunningTests MessageKind = "long-running-tests"
	KindError            MessageKind = "error-message"
)

// Message is one immutable lifecycle or result event. The set of
// implementations is closed; switch on the concrete type to handle it.
type Message interface {
	Kind() MessageKind
	MessageScope() Scope
	isMessage()
}

// Scope is the correlation chain shared by all messages. Only the levels that
// apply to a message are set; an empty string means "not applicable".
type Scope struct {
	AssemblyID   string `json:"assemblyID,omitempty"`
	CollectionID string `json:"collectionID,omitempty"`
	ClassID      string `json:"classID,omitempty"`
	MethodID     string `json:"methodID,omitempty"`
	TestCaseID   string `json:"testCaseID,omitempty"`
	TestID       string `json:"testID,omitempty"`
}

// MessageScope returns the correlation chain of the message.
func (s Scope) MessageScope() Scope { return s }

// ID returns the unique ID of the most specific entity in the scope.
func (s Scope) ID() string {
	for _, id := range []string{s.TestID, s.TestCaseID, s.MethodID, s.ClassID, s.CollectionID, s.AssemblyID} {
		if id != "" {
			return id
		}
	}
	return ""
}

// ParentID returns the unique ID of the parent of the most specific entity.
func (s Scope) ParentID() string {
	chain := []string{s.AssemblyID, s.CollectionID, s.ClassID, s.MethodID, s.TestCaseID, s.TestID}
	last := -1
	for i, id := range chain {
		if id != "" {
			last = i
		}
	}
	for i := last - 1; i >= 0; i-- {
		if chain[i] != "" {
			return chain[i]
		}
	}
	return ""
}

// FailureCause classifies why a test failed.
type FailureCause string

const (
	FailureCauseException FailureCause = "exception"
	FailureCauseTimeout   FailureCause = "timeout"
	FailureCauseOther     FailureCause = "other"
)

type AssemblyStarting struct {
	Scope
	AssemblyName   string    `json:"assemblyName"`
	AssemblyPath   string    `json:"assemblyPath,omitempty"`
	ConfigFilePath string    `json:"configFilePath,omitempty"`
	StartTime      time.Time `json:"startTime"`
}

type AssemblyFinished struct {
	Scope
	Summary    RunSummary `json:"summary"`
	FinishTime time.Time  `json:"finishTime"`
}

type AssemblyCleanupFailure struct {
	Scope
	Failure FailureInfo `json:"failure"`
}

type CollectionStarting struct {
	Scope
	DisplayName string              `json:"displayName"`
	Definition  string              `json:"definition,omitempty"`
	Traits      map[string][]string `json:"traits,omitempty"`
}

type CollectionFinished struct {
	Scope
	Summary RunSummary `json:"summary"`
}

type CollectionCleanupFailure struct {
	Scope
	Failure FailureInfo `json:"failure"`
}

type ClassStarting struct {
	Scope
	ClassName string `json:"className"`
}

type ClassFinished struct {
	Scope
	Summary RunSummary `json:"summary"`
}

type ClassCleanupFailure struct {
	Scope
	Failure FailureInfo `json:"failure"`
}

type MethodStarting struct {
	Scope
	MethodName string `json:"methodName"`
}

type MethodFinished struct {
	Scope
	Summary RunSummary `json:"summary"`
}

type TestCaseStarting struct {
	Scope
	DisplayName string              `json:"displayName"`
	ClassName   string              `json:"className,omitempty"`
	MethodName  string              `json:"methodName,omitempty"`
	SkipReason  string              `json:"skipReason,omitempty"`
	SourceFile  string              `json:"sourceFile,omitempty"`
	SourceLine  int                 `json:"sourceLine,omitempty"`
	Traits      map[string][]string `json:"traits,omitempty"`
}

type TestCaseFinished struct {
	Scope
	Summary RunSummary `json:"summary"`
}

type TestStarting struct {
	Scope
	DisplayName string    `json:"displayName"`
	StartTime   time.Time `json:"startTime"`
}

type TestPassed struct {
	Scope
	ExecutionTime time.Duration `json:"executionTime"`
	Output        string        `json:"output,omitempty"`
	Warnings      []string      `json:"warnings,omitempty"`
}

type TestFailed struct {
	Scope
	ExecutionTime time.Duration `json:"executionTime"`
	Output        string        `json:"output,omitempty"`
	Warnings      []string      `json:"warnings,omitempty"`
	Cause         FailureCause  `json:"cause"`
	Failure       FailureInfo   `json:"failure"`
}

type TestSkipped struct {
	Scope
	Reason        string        `json:"reason"`
	ExecutionTime time.Duration `json:"executionTime"`
	Output        string        `json:"output,omitempty"`
	Warnings      []string      `json:"warnings,omitempty"`
}

// TestNotRun reports a test that was abandoned before it started, usually
// because the run was cancelled.
type TestNotRun struct {
	Scope
	Reason string `json:"reason,omitempty"`
}

type TestFinished struct {
	Scope
	ExecutionTime time.Duration `json:"executionTime"`
	Output        string        `json:"output,omitempty"`
	Warnings      []string      `json:"warnings,omitempty"`
	FinishTime    time.Time     `json:"finishTime"`
}

type TestOutput struct {
	Scope
	Output string `json:"output"`
}

type TestCleanupFailure struct {
	Scope
	Failure FailureInfo `json:"failure"`
}

// DiagnosticMessage carries free-form diagnostic text for the diagnostic sink.
type DiagnosticMessage struct {
	Scope
	Message string `json:"message"`
}

// LongRunningTest is a single entry of a LongRunningTests notification.
type LongRunningTest struct {
	TestCaseID  string        `json:"testCaseID"`
	DisplayName string        `json:"displayName"`
	Elapsed     time.Duration `json:"elapsed"`
}

// LongRunningTests lists every test case that was over the threshold at the
// time of a watchdog scan.
type LongRunningTests struct {
	Scope
	Threshold time.Duration     `json:"threshold"`
	Tests     []LongRunningTest `json:"tests"`
}

// ErrorMessage reports a failure that is not attributable to a test result,
// such as a panicking message sink.
type ErrorMessage struct {
	Scope
	Failure FailureInfo `json:"failure"`
}

// NewErrorMessage builds an ErrorMessage from an error.
func NewErrorMessage(scope Scope, err error) ErrorMessage {
	return ErrorMessage{Scope: scope, Failure: FailureInfoFromError(err)}
}

func (AssemblyStarting) Kind() MessageKind         { return KindAssemblyStarting }
func (AssemblyFinished) Kind() MessageKind         { return KindAssemblyFinished }
func (AssemblyCleanupFailure) Kind() MessageKind   { return KindAssemblyCleanupFailure }
func (CollectionStarting) Kind() MessageKind       { return KindCollectionStarting }
func (CollectionFinished) Kind() MessageKind       { return KindCollectionFinished }
func (CollectionCleanupFailure) Kind() MessageKind { return KindCollectionCleanupFailure }
func (ClassStarting) Kind() MessageKind            { return KindClassStarting }
func (ClassFinished) Kind() MessageKind            { return KindClassFinished }
func (ClassCleanupFailure) Kind() MessageKind      { return KindClassCleanupFailure }
func (MethodStarting) Kind() MessageKind           { return KindMethodStarting }
func (MethodFinished) Kind() MessageKind           { return KindMethodFinished }
func (TestCaseStarting) Kind() MessageKind         { return KindTestCaseStarting }
func (TestCaseFinished) Kind() MessageKind         { return KindTestCaseFinished }
func (TestStarting) Kind() MessageKind             { return KindTestStarting }
func (TestPassed) Kind() MessageKind               { return KindTestPassed }
func (TestFailed) Kind() MessageKind               { return KindTestFailed }
func (TestSkipped) Kind() MessageKind              { return KindTestSkipped }
func (TestNotRun) Kind() MessageKind               { return KindTestNotRun }
func (TestFinished) Kind() MessageKind             { return KindTestFinished }
func (TestOutput) Kind() MessageKind               { return KindTestOutput }
func (TestCleanupFailure) Kind() MessageKind       { return KindTestCleanupFailure }
func (DiagnosticMessage) Kind() MessageKind        { return KindDiagnostic }
func (LongRunningTests) Kind() MessageKind         { return KindLongRunningTests }
func (ErrorMessage) Kind() MessageKind             { return KindError }

func (AssemblyStarting) isMessage()         {}
func (AssemblyFinished) isMessage()         {}
func (AssemblyCleanupFailure) isMessage()   {}
func (CollectionStarting) isMessage()       {}
func (CollectionFinished) isMessage()       {}
func (CollectionCleanupFailure) isMessage() {}
func (ClassStarting) isMessage()            {}
func (ClassFinished) isMessage()            {}
func (ClassCleanupFailure) isMessage()      {}
func (MethodStarting) isMessage()           {}
func (MethodFinished) isMessage()           {}
func (TestCaseStarting) isMessage()         {}
func (TestCaseFinished) isMessage()         {}
func (TestStarting) isMessage()             {}
func (TestPassed) isMessage()               {}
func (TestFailed) isMessage()               {}
func (TestSkipped) isMessage()              {}
func (TestNotRun) isMessage()               {}
func (TestFinished) isMessage()             {}
func (TestOutput) isMessage()               {}
func (TestCleanupFailure) isMessage()       {}
func (DiagnosticMessage) isMessage()        {}
func (LongRunningTests) isMessage()         {}
func (ErrorMessage) isMessage()             {}

// IsCleanupFailure reports whether msg is one of the scope cleanup failure messages.
func IsCleanupFailure(msg Message) bool {
	switch msg.(type) {
	case AssemblyCleanupFailure, CollectionCleanupFailure, ClassCleanupFailure, TestCleanupFailure:
		return true
	default:
		return false
	}
}
