package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"strconv"
	"sync"
)

var ErrIDGeneratorUsed = errors.New("unique ID generator cannot be used after Compute")

// IDGenerator computes a stable unique ID from an ordered list of string
// inputs. Inputs are NUL-separated before hashing so that ("ab", "c") and
// ("a", "bc") produce different IDs.
type IDGenerator struct {
	mu       sync.Mutex
	hasher   hash.Hash
	computed bool
}

// NewIDGenerator creates an empty generator.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{hasher: sha256.New()}
}

// Add appends value to the ID computation.
func (g *IDGenerator) Add(value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.computed {
		return ErrIDGeneratorUsed
	}
	g.hasher.Write([]byte(value))
	g.hasher.Write([]byte{0})
	return nil
}

// Compute returns the lowercase hex ID. The generator cannot be used again.
func (g *IDGenerator) Compute() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.computed {
		return "", ErrIDGeneratorUsed
	}
	g.computed = true
	return hex.EncodeToString(g.hasher.Sum(nil)), nil
}

func computeID(values ...string) string {
	g := NewIDGenerator()
	for _, v := range values {
		_ = g.Add(v)
	}
	id, _ := g.Compute()
	return id
}

// AssemblyUniqueID computes the ID of a test assembly from its path and
// optional configuration file path.
func AssemblyUniqueID(assemblyPath, configFilePath string) string {
	return computeID(assemblyPath, configFilePath)
}

// CollectionUniqueID computes the ID of a test collection.
func CollectionUniqueID(assemblyID, displayName, definition string) string {
	return computeID(assemblyID, displayName, definition)
}

// ClassUniqueID computes the ID of a test class. It returns "" when
// className is empty, as test cases are not required to belong to a class.
func ClassUniqueID(collectionID, className string) string {
	if className == "" {
		return ""
	}
	return computeID(collectionID, className)
}

// MethodUniqueID computes the ID of a test method. It returns "" when either
// input is empty.
func MethodUniqueID(classID, methodName string) string {
	if classID == "" || methodName == "" {
		return ""
	}
	return computeID(classID, methodName)
}

// TestCaseUniqueID computes the ID of a test case from its parent (method,
// class or collection ID) and any data that distinguishes it from siblings.
func TestCaseUniqueID(parentID string, args ...string) string {
	return computeID(append([]string{parentID}, args...)...)
}

// TestUniqueID computes the ID of the index-th test of a test case.
func TestUniqueID(testCaseID string, index int) string {
	return computeID(testCaseID, strconv.Itoa(index))
}
