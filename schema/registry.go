package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"example.com/backoffice/services/ledger/domain"
	"example.com/backoffice/services/ledger/models"
)

// ErrUnknownEventType is returned for event types without a registered
// schema.
var ErrUnknownEventType = errors.New("no schema registered for event type")

// FieldType names the JSON type a schema field must carry
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "boolean"
	FieldObject FieldType = "object"
	FieldArray  FieldType = "array"
)

// Definition describes one version of one event type's payload
type Definition struct {
	EventType        string
	Version          int
	RequiredFields   map[string]FieldType
	OptionalFields   map[string]FieldType
	DeprecatedFields []string
}

// MigrationFunc transforms event data from one schema version to the next
type MigrationFunc func(data models.JSONMap) (models.JSONMap, error)

// MigrationRule is one named transform inside a version step. A required
// rule failure fails the event's migration; an optional failure is logged
// and skipped unless the run stops on errors.
type MigrationRule struct {
	Name     string
	Required bool
	Apply    MigrationFunc
}

type migrationKey struct {
	eventType string
	from      int
}

// Registry holds schema definitions and version-to-version migrations.
// All registration happens at startup; reads afterwards are lock-free in
// practice but guarded anyway.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]map[int]*Definition
	migrations  map[migrationKey][]MigrationRule
}

// NewRegistry creates an empty schema registry
func NewRegistry() *Registry {
	return &Registry{
		definitions: make(map[string]map[int]*Definition),
		migrations:  make(map[migrationKey][]MigrationRule),
	}
}

// RegisterEventVersion registers a schema definition. Re-registering the
// same (type, version) pair is a programming error.
func (r *Registry) RegisterEventVersion(def Definition) error {
	if def.EventType == "" {
		return fmt.Errorf("schema definition requires an event type")
	}
	if def.Version < 1 {
		return fmt.Errorf("schema version for %s must be >= 1", def.EventType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.definitions[def.EventType]
	if !ok {
		versions = make(map[int]*Definition)
		r.definitions[def.EventType] = versions
	}
	if _, exists := versions[def.Version]; exists {
		return fmt.Errorf("schema %s v%d already registered", def.EventType, def.Version)
	}

	copied := def
	versions[def.Version] = &copied
	return nil
}

// RegisterMigration registers the transform from version `from` to
// `from+1` for the given event type as a single required rule.
func (r *Registry) RegisterMigration(eventType string, from int, fn MigrationFunc) error {
	if fn == nil {
		return fmt.Errorf("migration for %s v%d is nil", eventType, from)
	}
	return r.RegisterMigrationRules(eventType, from, MigrationRule{
		Name:     fmt.Sprintf("v%d_to_v%d", from, from+1),
		Required: true,
		Apply:    fn,
	})
}

// RegisterMigrationRules registers the ordered rule set for the version
// step from `from` to `from+1`.
func (r *Registry) RegisterMigrationRules(eventType string, from int, rules ...MigrationRule) error {
	if len(rules) == 0 {
		return fmt.Errorf("migration for %s v%d has no rules", eventType, from)
	}
	for _, rule := range rules {
		if rule.Apply == nil {
			return fmt.Errorf("migration rule %q for %s v%d is nil", rule.Name, eventType, from)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := migrationKey{eventType: eventType, from: from}
	if _, exists := r.migrations[key]; exists {
		return fmt.Errorf("migration %s v%d->v%d already registered", eventType, from, from+1)
	}
	r.migrations[key] = rules
	return nil
}

// Definition returns the schema for (eventType, version)
func (r *Registry) Definition(eventType string, version int) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.definitions[eventType]
	if !ok {
		return nil, false
	}
	def, ok := versions[version]
	return def, ok
}

// LatestVersion returns the highest registered version for an event type,
// or 0 when the type is unregistered.
func (r *Registry) LatestVersion(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest := 0
	for v := range r.definitions[eventType] {
		if v > latest {
			latest = v
		}
	}
	return latest
}

// RegisteredEventTypes lists event types with at least one schema
func (r *Registry) RegisteredEventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.definitions))
	for t := range r.definitions {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ValidationIssue is one problem found while validating event data
type ValidationIssue struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

// ValidateEventSchema checks event data against the registered schema.
// Unregistered (type, version) pairs validate clean so unknown event
// types keep flowing.
func (r *Registry) ValidateEventSchema(eventType string, version int, data models.JSONMap) []ValidationIssue {
	def, ok := r.Definition(eventType, version)
	if !ok {
		return nil
	}

	var issues []ValidationIssue

	for field, fieldType := range def.RequiredFields {
		value, present := data[field]
		if !present || value == nil {
			issues = append(issues, ValidationIssue{
				Field:   field,
				Problem: "required field is missing",
			})
			continue
		}
		if !matchesType(value, fieldType) {
			issues = append(issues, ValidationIssue{
				Field:   field,
				Problem: fmt.Sprintf("expected %s", fieldType),
			})
		}
	}

	for field, fieldType := range def.OptionalFields {
		value, present := data[field]
		if !present || value == nil {
			continue
		}
		if !matchesType(value, fieldType) {
			issues = append(issues, ValidationIssue{
				Field:   field,
				Problem: fmt.Sprintf("expected %s", fieldType),
			})
		}
	}

	for _, field := range def.DeprecatedFields {
		if _, present := data[field]; present {
			issues = append(issues, ValidationIssue{
				Field:   field,
				Problem: "field is deprecated",
			})
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Field == issues[j].Field {
			return issues[i].Problem < issues[j].Problem
		}
		return issues[i].Field < issues[j].Field
	})
	return issues
}

// MigrationPath returns the ordered chain of rule sets from one version
// to another, one set per version step. An incomplete chain is an error.
func (r *Registry) MigrationPath(eventType string, from, to int) ([][]MigrationRule, error) {
	if from >= to {
		return nil, fmt.Errorf("migration for %s requires from < to, got v%d->v%d", eventType, from, to)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	path := make([][]MigrationRule, 0, to-from)
	for v := from; v < to; v++ {
		rules, ok := r.migrations[migrationKey{eventType: eventType, from: v}]
		if !ok {
			return nil, fmt.Errorf("no migration registered for %s v%d->v%d", eventType, v, v+1)
		}
		path = append(path, rules)
	}
	return path, nil
}

// VersionInfo is one step in an event type's schema evolution
type VersionInfo struct {
	Version                int      `json:"version"`
	RequiredFields         []string `json:"required_fields"`
	OptionalFields         []string `json:"optional_fields"`
	DeprecatedFields       []string `json:"deprecated_fields,omitempty"`
	MigratableFromPrevious bool     `json:"migratable_from_previous"`
}

// EvolutionHistory returns the registered versions of an event type in
// order, with the field surface of each and whether a migration exists
// from the version before it.
func (r *Registry) EvolutionHistory(eventType string) ([]VersionInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.definitions[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	ordered := make([]int, 0, len(versions))
	for v := range versions {
		ordered = append(ordered, v)
	}
	sort.Ints(ordered)

	history := make([]VersionInfo, 0, len(ordered))
	for _, v := range ordered {
		def := versions[v]
		_, migratable := r.migrations[migrationKey{eventType: eventType, from: v - 1}]
		history = append(history, VersionInfo{
			Version:                v,
			RequiredFields:         sortedFieldNames(def.RequiredFields),
			OptionalFields:         sortedFieldNames(def.OptionalFields),
			DeprecatedFields:       append([]string(nil), def.DeprecatedFields...),
			MigratableFromPrevious: migratable,
		})
	}
	return history, nil
}

func sortedFieldNames(fields map[string]FieldType) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func matchesType(value interface{}, fieldType FieldType) bool {
	switch fieldType {
	case FieldString:
		_, ok := value.(string)
		return ok
	case FieldNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case FieldBool:
		_, ok := value.(bool)
		return ok
	case FieldObject:
		switch value.(type) {
		case map[string]interface{}, models.JSONMap:
			return true
		}
		return false
	case FieldArray:
		_, ok := value.([]interface{})
		return ok
	}
	return false
}

// DefaultRegistry builds the registry with the built-in financial event
// schemas. Called once at startup.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	mustRegister := func(def Definition) {
		if err := r.RegisterEventVersion(def); err != nil {
			panic(err)
		}
	}

	mustRegister(Definition{
		EventType: domain.PaymentInitiated,
		Version:   1,
		RequiredFields: map[string]FieldType{
			"amount":   FieldNumber,
			"currency": FieldString,
		},
		OptionalFields: map[string]FieldType{
			"booking_id": FieldString,
			"method":     FieldString,
		},
	})
	mustRegister(Definition{
		EventType: domain.PaymentCompleted,
		Version:   1,
		RequiredFields: map[string]FieldType{
			"transaction_id": FieldString,
		},
	})
	mustRegister(Definition{
		EventType: domain.PaymentFailed,
		Version:   1,
		RequiredFields: map[string]FieldType{
			"reason": FieldString,
		},
		OptionalFields: map[string]FieldType{
			"error_code": FieldString,
		},
	})
	mustRegister(Definition{
		EventType: domain.WalletCredited,
		Version:   1,
		OptionalFields: map[string]FieldType{
			"source": FieldString,
		},
	})
	mustRegister(Definition{
		EventType: domain.WalletDebited,
		Version:   1,
		OptionalFields: map[string]FieldType{
			"purpose": FieldString,
		},
	})
	mustRegister(Definition{
		EventType: domain.CommissionCalculated,
		Version:   1,
		RequiredFields: map[string]FieldType{
			"rate": FieldNumber,
		},
		OptionalFields: map[string]FieldType{
			"booking_id": FieldString,
		},
	})
	mustRegister(Definition{
		EventType: domain.RefundInitiated,
		Version:   1,
		OptionalFields: map[string]FieldType{
			"payment_id": FieldString,
			"reason":     FieldString,
		},
	})

	return r
}
