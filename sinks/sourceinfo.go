package sinks

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ethereum-optimism/infra/op-testexec/types"
)

const DefaultSourceCacheSize = 1024

// SourceInformation locates the definition of a test case.
type SourceInformation struct {
	File string
	Line int
}

// SourceInformationProvider looks up where a test case is defined. ok is
// false when the location is unknown.
type SourceInformationProvider interface {
	SourceInformation(msg types.TestCaseStarting) (info SourceInformation, ok bool)
}

// SourceInfoSink fills in SourceFile and SourceLine on TestCaseStarting
// messages that do not carry them.
type SourceInfoSink struct {
	inner    Sink
	provider SourceInformationProvider
	cache    *lru.Cache
}

func NewSourceInfoSink(inner Sink, provider SourceInformationProvider, cacheSize int) (*SourceInfoSink, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultSourceCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create source information cache: %w", err)
	}
	return &SourceInfoSink{inner: inner, provider: provider, cache: cache}, nil
}

func (s *SourceInfoSink) OnMessage(msg types.Message) bool {
	if starting, ok := msg.(types.TestCaseStarting); ok && starting.SourceFile == "" && s.provider != nil {
		if info, found := s.lookup(starting); found {
			starting.SourceFile = info.File
			starting.SourceLine = info.Line
			msg = starting
		}
	}
	return deliver(s.inner, msg)
}

func (s *SourceInfoSink) lookup(msg types.TestCaseStarting) (SourceInformation, bool) {
	key := msg.TestCaseID
	if cached, ok := s.cache.Get(key); ok {
		entry := cached.(sourceEntry)
		return entry.info, entry.found
	}
	info, found := s.provider.SourceInformation(msg)
	s.cache.Add(key, sourceEntry{info: info, found: found})
	return info, found
}

type sourceEntry struct {
	info  SourceInformation
	found bool
}
