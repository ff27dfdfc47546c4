package runner

import (
	"sort"

	"github.com/ethereum-optimism/infra/op-testexec/types"
)

// TestCaseOrderer decides the execution order of the cases of one collection.
// The order must be deterministic.
type TestCaseOrderer interface {
	OrderTestCases(cases []types.TestCase) []types.TestCase
}

// CollectionOrderer decides the dispatch order of collections.
type CollectionOrderer interface {
	OrderCollections(collections []*Collection) []*Collection
}

// DeclarationOrderer keeps cases in the order they were declared.
type DeclarationOrderer struct{}

func (DeclarationOrderer) OrderTestCases(cases []types.TestCase) []types.TestCase {
	return append([]types.TestCase(nil), cases...)
}

// UniqueIDOrderer sorts cases by unique ID.
type UniqueIDOrderer struct{}

func (UniqueIDOrderer) OrderTestCases(cases []types.TestCase) []types.TestCase {
	out := append([]types.TestCase(nil), cases...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UniqueID() < out[j].UniqueID()
	})
	return out
}

type DeclarationCollectionOrderer struct{}

func (DeclarationCollectionOrderer) OrderCollections(collections []*Collection) []*Collection {
	return append([]*Collection(nil), collections...)
}

// DisplayNameCollectionOrderer sorts collections by display name.
type DisplayNameCollectionOrderer struct{}

func (DisplayNameCollectionOrderer) OrderCollections(collections []*Collection) []*Collection {
	out := append([]*Collection(nil), collections...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DisplayName < out[j].DisplayName
	})
	return out
}

type caseGroup struct {
	name  string
	cases []types.TestCase
}

// groupBy partitions cases by key, keeping groups in order of first
// appearance and cases in their original order.
func groupBy(cases []types.TestCase, key func(types.TestCase) string) []caseGroup {
	var groups []caseGroup
	index := make(map[string]int)
	for _, tc := range cases {
		k := key(tc)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, caseGroup{name: k})
		}
		groups[i].cases = append(groups[i].cases, tc)
	}
	return groups
}
