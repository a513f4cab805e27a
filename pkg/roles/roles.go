// Package roles defines the canonical behavioral roles assigned to functions
// and classes, and the normalization of free-form labels onto them.
package roles

import (
	"sort"
	"strings"
)

// Role is one of the canonical behavioral roles.
type Role string

const (
	Query        Role = "Query"
	Finder       Role = "Finder"
	Loader       Role = "Loader"
	Getter       Role = "Getter"
	Command      Role = "Command"
	Creator      Role = "Creator"
	Mutator      Role = "Mutator"
	Destroyer    Role = "Destroyer"
	Factory      Role = "Factory"
	Builder      Role = "Builder"
	Repository   Role = "Repository"
	Store        Role = "Store"
	Cache        Role = "Cache"
	Service      Role = "Service"
	Controller   Role = "Controller"
	Manager      Role = "Manager"
	Orchestrator Role = "Orchestrator"
	Validator    Role = "Validator"
	Guard        Role = "Guard"
	Asserter     Role = "Asserter"
	Transformer  Role = "Transformer"
	Mapper       Role = "Mapper"
	Serializer   Role = "Serializer"
	Parser       Role = "Parser"
	Handler      Role = "Handler"
	Listener     Role = "Listener"
	Subscriber   Role = "Subscriber"
	Emitter      Role = "Emitter"
	Utility      Role = "Utility"
	Formatter    Role = "Formatter"
	Helper       Role = "Helper"
	Internal     Role = "Internal"
	Lifecycle    Role = "Lifecycle"
)

// Fallback is returned for labels with no canonical or legacy mapping.
const Fallback = Internal

// Count is the number of canonical roles.
const Count = 33

// Group is a coarse family of roles.
type Group string

const (
	GroupAccess         Group = "access"
	GroupMutation       Group = "mutation"
	GroupCreation       Group = "creation"
	GroupStorage        Group = "storage"
	GroupCoordination   Group = "coordination"
	GroupValidation     Group = "validation"
	GroupTransformation Group = "transformation"
	GroupEvents         Group = "events"
	GroupSupport        Group = "support"
	GroupStructure      Group = "structure"
)

var canonical = map[Role]Group{
	Query: GroupAccess, Finder: GroupAccess, Loader: GroupAccess, Getter: GroupAccess,
	Command: GroupMutation, Creator: GroupMutation, Mutator: GroupMutation, Destroyer: GroupMutation,
	Factory: GroupCreation, Builder: GroupCreation,
	Repository: GroupStorage, Store: GroupStorage, Cache: GroupStorage,
	Service: GroupCoordination, Controller: GroupCoordination, Manager: GroupCoordination, Orchestrator: GroupCoordination,
	Validator: GroupValidation, Guard: GroupValidation, Asserter: GroupValidation,
	Transformer: GroupTransformation, Mapper: GroupTransformation, Serializer: GroupTransformation, Parser: GroupTransformation,
	Handler: GroupEvents, Listener: GroupEvents, Subscriber: GroupEvents, Emitter: GroupEvents,
	Utility: GroupSupport, Formatter: GroupSupport, Helper: GroupSupport,
	Internal: GroupStructure, Lifecycle: GroupStructure,
}

// legacy maps retired and non-canonical labels onto canonical roles.
var legacy = map[string]Role{
	"Test":       Asserter,
	"Fixture":    Asserter,
	"TestDouble": Helper,

	"Specification": Validator,
	"Specifier":     Validator,
	"Spec":          Validator,
	"Rule":          Validator,
	"Policy":        Guard,

	"Configuration": Store,
	"Config":        Store,
	"Settings":      Store,
	"Option":        Store,

	"Exception": Internal,
	"Error":     Internal,

	"Adapter":    Transformer,
	"Converter":  Transformer,
	"Client":     Service,
	"Gateway":    Service,
	"Middleware": Service,

	"Provider": Factory,

	"Job":            Handler,
	"Task":           Command,
	"Worker":         Handler,
	"CommandHandler": Handler,
	"EventHandler":   Handler,

	"DTO":                Internal,
	"Entity":             Internal,
	"ValueObject":        Internal,
	"AggregateRoot":      Internal,
	"DomainEvent":        Emitter,
	"DomainService":      Service,
	"ApplicationService": Service,

	"Schema":    Internal,
	"Request":   Internal,
	"Response":  Internal,
	"Model":     Internal,
	"Aggregate": Internal,
	"Vo":        Internal,

	"Observer": Listener,

	"Impl":           Internal,
	"RepositoryImpl": Repository,

	"Module":   Utility,
	"Iterator": Utility,

	"SubjectUnderTest":   Internal,
	"IntegrationService": Service,
	"UseCase":            Service,
	"EventProcessor":     Handler,
	"InternalHelper":     Utility,

	"APIHandler":     Handler,
	"ImpureFunction": Utility,
	"Processor":      Service,

	"EntryPoint":  Controller,
	"Constructor": Lifecycle,

	"Unknown": Internal,
}

var (
	canonicalFold = make(map[string]Role, len(canonical))
	legacyFold    = make(map[string]Role, len(legacy))
)

func init() {
	for r := range canonical {
		canonicalFold[strings.ToLower(string(r))] = r
	}
	for label, r := range legacy {
		legacyFold[strings.ToLower(label)] = r
	}
}

// All returns the canonical roles in alphabetical order.
func All() []Role {
	out := make([]Role, 0, len(canonical))
	for r := range canonical {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsCanonical reports whether label is exactly a canonical role.
func IsCanonical(label string) bool {
	_, ok := canonical[Role(label)]
	return ok
}

// Group returns the family of a canonical role.
func (r Role) Group() Group {
	return canonical[Normalize(string(r))]
}

// Normalize maps any label onto a canonical role. It never fails:
// canonical labels pass through, legacy labels are remapped, both are
// retried case-insensitively, and everything else becomes Fallback.
func Normalize(label string) Role {
	label = strings.TrimSpace(label)
	if label == "" {
		return Fallback
	}
	if _, ok := canonical[Role(label)]; ok {
		return Role(label)
	}
	if r, ok := legacy[label]; ok {
		return r
	}
	lower := strings.ToLower(label)
	if r, ok := canonicalFold[lower]; ok {
		return r
	}
	if r, ok := legacyFold[lower]; ok {
		return r
	}
	return Fallback
}

// LegacyLabels returns the legacy labels known to Normalize, sorted.
func LegacyLabels() []string {
	out := make([]string, 0, len(legacy))
	for label := range legacy {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// FromPatternKind maps a pattern-matcher kind such as "repository" or
// "valueobject" onto a role.
func FromPatternKind(kind string) Role {
	return Normalize(kind)
}
