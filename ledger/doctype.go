/*
doctype.go - Document type registration and lookup

PURPOSE:
  Provides a registry for domain packages to register their document types.
  This enables deserialization from storage/JSON back to concrete types
  while keeping the engine free of invoice/credit-note/quote knowledge.

HOW IT WORKS:
  1. Domain packages define their DocumentType implementations
  2. Domain packages register them on init()
  3. Storage and the HTTP layer use the registry to reconstruct types

USAGE:
  // In invoice/types.go
  func init() {
      ledger.RegisterType(TypeInvoice)
  }

  // In storage
  docType := ledger.GetOrCreateType("invoice")  // returns invoice.TypeInvoice

WHY A REGISTRY:
  - The ledger package stays domain-agnostic
  - The sequence/hash/lock algorithms are written once, not three times
  - Clean deserialization from strings
  - Domains own their state machines

SEE ALSO:
  - types.go: Document shape
  - invoice/types.go, creditnote/types.go, quote/types.go: implementations
*/
package ledger

import (
	"fmt"
	"sync"
)

// =============================================================================
// DOCUMENT TYPE - Capability each entity family implements
// =============================================================================

// DocumentType is the capability a fiscal entity family (invoice, credit
// note, quote) exposes to the engine. Each type owns an independent
// per-tenant hash chain and sequence, a number prefix, and a state machine.
type DocumentType interface {
	// TypeID returns the unique identifier for this document type.
	TypeID() string

	// NumberPrefix returns the prefix of permanent document numbers
	// (e.g. "INV" produces INV-2025-0001).
	NumberPrefix() string

	// Transitions returns the allowed status transitions. Absent keys
	// are terminal states.
	Transitions() map[Status][]Status
}

// CanTransition reports whether the type's state machine permits from -> to.
func CanTransition(t DocumentType, from, to Status) bool {
	for _, s := range t.Transitions()[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves the given status.
func IsTerminal(t DocumentType, s Status) bool {
	return len(t.Transitions()[s]) == 0
}

// =============================================================================
// TYPE REGISTRY
// =============================================================================

var (
	typeRegistry = make(map[string]DocumentType)
	registryMu   sync.RWMutex
)

// RegisterType adds a document type to the global registry.
// Call this from domain package init() functions.
func RegisterType(t DocumentType) {
	registryMu.Lock()
	defer registryMu.Unlock()
	typeRegistry[t.TypeID()] = t
}

// LookupType finds a registered document type by ID.
// Returns nil if not found.
func LookupType(id string) DocumentType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return typeRegistry[id]
}

// MustLookupType finds a registered document type or panics.
// Use in tests or when you're certain the type exists.
func MustLookupType(id string) DocumentType {
	t := LookupType(id)
	if t == nil {
		panic(fmt.Sprintf("document type not registered: %s", id))
	}
	return t
}

// ListTypes returns all registered document types.
func ListTypes() []DocumentType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	result := make([]DocumentType, 0, len(typeRegistry))
	for _, t := range typeRegistry {
		result = append(result, t)
	}
	return result
}

// =============================================================================
// STRING TYPE - For deserialization fallback
// =============================================================================

// StringType is a plain document type with no state machine. It exists so
// stored documents of an unloaded domain can still be read and verified;
// it permits no transitions.
type StringType struct {
	ID     string
	Prefix string
}

func (t StringType) TypeID() string                   { return t.ID }
func (t StringType) NumberPrefix() string             { return t.Prefix }
func (t StringType) Transitions() map[Status][]Status { return nil }

// GetOrCreateType looks up a document type, or creates a StringType
// fallback. Use this in deserialization when the domain might not be loaded.
func GetOrCreateType(id string) DocumentType {
	if t := LookupType(id); t != nil {
		return t
	}
	return StringType{ID: id, Prefix: "DOC"}
}
