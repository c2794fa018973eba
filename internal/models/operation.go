package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OperationType enumerates supported document mutations.
type OperationType string

const (
	OperationInsert OperationType = "insert"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
	// OperationCreate is only ever written by the store when a document is created.
	OperationCreate OperationType = "create"
)

// Valid reports whether the type may be submitted by a client.
func (t OperationType) Valid() bool {
	switch t {
	case OperationInsert, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// TargetKind discriminates the addressable parts of a document.
type TargetKind int

const (
	TargetScalar TargetKind = iota + 1
	TargetGoalField
	TargetAccommodationField
	TargetCollection
)

// ScalarField names a top-level document field.
type ScalarField string

const (
	FieldStudentName        ScalarField = "student_name"
	FieldSchoolYear         ScalarField = "school_year"
	FieldEffectiveDate      ScalarField = "effective_date"
	FieldExpiryDate         ScalarField = "expiry_date"
	FieldPresentLevels      ScalarField = "present_levels"
	FieldTransitionServices ScalarField = "transition_services"
	FieldPlacement          ScalarField = "placement"
)

// GoalField names an editable goal attribute.
type GoalField string

const (
	GoalFieldTitle              GoalField = "title"
	GoalFieldDescription        GoalField = "description"
	GoalFieldMeasurableCriteria GoalField = "measurable_criteria"
	GoalFieldDomain             GoalField = "domain"
	GoalFieldTargetDate         GoalField = "target_date"
)

// AccommodationField names an editable accommodation attribute.
type AccommodationField string

const (
	AccommodationFieldTitle       AccommodationField = "title"
	AccommodationFieldDescription AccommodationField = "description"
	AccommodationFieldCategory    AccommodationField = "category"
	AccommodationFieldSetting     AccommodationField = "setting"
)

// Collection names an ordered list inside a document.
type Collection string

const (
	CollectionGoals          Collection = "goals"
	CollectionAccommodations Collection = "accommodations"
	CollectionSpecialFactors Collection = "special_factors"
)

var (
	scalarFields = map[ScalarField]struct{}{
		FieldStudentName: {}, FieldSchoolYear: {}, FieldEffectiveDate: {}, FieldExpiryDate: {},
		FieldPresentLevels: {}, FieldTransitionServices: {}, FieldPlacement: {},
	}
	goalFields = map[GoalField]struct{}{
		GoalFieldTitle: {}, GoalFieldDescription: {}, GoalFieldMeasurableCriteria: {},
		GoalFieldDomain: {}, GoalFieldTargetDate: {},
	}
	accommodationFields = map[AccommodationField]struct{}{
		AccommodationFieldTitle: {}, AccommodationFieldDescription: {},
		AccommodationFieldCategory: {}, AccommodationFieldSetting: {},
	}
	collections = map[Collection]struct{}{
		CollectionGoals: {}, CollectionAccommodations: {}, CollectionSpecialFactors: {},
	}
)

// Target is a typed selector for the part of a document an operation addresses.
// Only the fields relevant to Kind are meaningful.
type Target struct {
	Kind          TargetKind
	Scalar        ScalarField
	Goal          GoalField
	Accommodation AccommodationField
	Collection    Collection
	Index         int
}

// ScalarTarget addresses a top-level field.
func ScalarTarget(field ScalarField) Target {
	return Target{Kind: TargetScalar, Scalar: field}
}

// GoalFieldTarget addresses goals[index].field.
func GoalFieldTarget(index int, field GoalField) Target {
	return Target{Kind: TargetGoalField, Collection: CollectionGoals, Index: index, Goal: field}
}

// AccommodationFieldTarget addresses accommodations[index].field.
func AccommodationFieldTarget(index int, field AccommodationField) Target {
	return Target{Kind: TargetAccommodationField, Collection: CollectionAccommodations, Index: index, Accommodation: field}
}

// CollectionTarget addresses a whole ordered collection.
func CollectionTarget(collection Collection) Target {
	return Target{Kind: TargetCollection, Collection: collection}
}

// String renders the dotted wire form, e.g. "goals.0.title".
func (t Target) String() string {
	switch t.Kind {
	case TargetScalar:
		return string(t.Scalar)
	case TargetGoalField:
		return fmt.Sprintf("%s.%d.%s", CollectionGoals, t.Index, t.Goal)
	case TargetAccommodationField:
		return fmt.Sprintf("%s.%d.%s", CollectionAccommodations, t.Index, t.Accommodation)
	case TargetCollection:
		return string(t.Collection)
	}
	return ""
}

// ParseTarget converts "present_levels", "goals.1.title", "goals[1].title" or "goals" into a Target.
func ParseTarget(path string) (Target, error) {
	normalized := strings.TrimSpace(path)
	normalized = strings.ReplaceAll(normalized, "[", ".")
	normalized = strings.ReplaceAll(normalized, "]", "")
	if normalized == "" {
		return Target{}, fmt.Errorf("path is required")
	}
	parts := strings.Split(normalized, ".")
	switch len(parts) {
	case 1:
		if _, ok := scalarFields[ScalarField(parts[0])]; ok {
			return ScalarTarget(ScalarField(parts[0])), nil
		}
		if _, ok := collections[Collection(parts[0])]; ok {
			return CollectionTarget(Collection(parts[0])), nil
		}
		return Target{}, fmt.Errorf("unknown field %q", parts[0])
	case 3:
		index, err := strconv.Atoi(parts[1])
		if err != nil || index < 0 {
			return Target{}, fmt.Errorf("invalid index %q in path %q", parts[1], path)
		}
		switch Collection(parts[0]) {
		case CollectionGoals:
			if _, ok := goalFields[GoalField(parts[2])]; !ok {
				return Target{}, fmt.Errorf("unknown goal field %q", parts[2])
			}
			return GoalFieldTarget(index, GoalField(parts[2])), nil
		case CollectionAccommodations:
			if _, ok := accommodationFields[AccommodationField(parts[2])]; !ok {
				return Target{}, fmt.Errorf("unknown accommodation field %q", parts[2])
			}
			return AccommodationFieldTarget(index, AccommodationField(parts[2])), nil
		}
		return Target{}, fmt.Errorf("collection %q has no addressable fields", parts[0])
	}
	return Target{}, fmt.Errorf("unsupported path %q", path)
}

// MarshalText implements encoding.TextMarshaler.
func (t Target) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Target) UnmarshalText(text []byte) error {
	parsed, err := ParseTarget(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Operation is a typed, validated mutation consumed once by the applier.
type Operation struct {
	Type      OperationType
	Path      Target
	Value     json.RawMessage
	Position  *int
	Author    string
	Timestamp time.Time
}

// Record normalises the operation into its op-log form.
func (o Operation) Record(version uint64) OperationRecord {
	var position *int
	if o.Position != nil {
		p := *o.Position
		position = &p
	}
	return OperationRecord{
		Type:      o.Type,
		Path:      o.Path.String(),
		Value:     append(json.RawMessage(nil), o.Value...),
		Position:  position,
		Author:    o.Author,
		Timestamp: o.Timestamp.UTC(),
		Version:   version,
	}
}

// OperationRecord is the wire and op-log representation of an operation.
type OperationRecord struct {
	Type      OperationType   `json:"operationType"`
	Path      string          `json:"path"`
	Value     json.RawMessage `json:"value,omitempty"`
	Position  *int            `json:"position,omitempty"`
	Author    string          `json:"author"`
	Timestamp time.Time       `json:"timestamp"`
	Version   uint64          `json:"version,omitempty"`
}

// DedupKey identifies an operation across replicas.
func (r OperationRecord) DedupKey() string {
	return r.Author + "|" + r.Timestamp.UTC().Format(time.RFC3339Nano)
}

// Operation reconstructs a typed operation from its wire form.
func (r OperationRecord) Operation() (Operation, error) {
	if !r.Type.Valid() {
		return Operation{}, fmt.Errorf("unsupported operation type %q", r.Type)
	}
	if strings.TrimSpace(r.Author) == "" {
		return Operation{}, fmt.Errorf("author is required")
	}
	if r.Timestamp.IsZero() {
		return Operation{}, fmt.Errorf("timestamp is required")
	}
	target, err := ParseTarget(r.Path)
	if err != nil {
		return Operation{}, err
	}
	op := Operation{
		Type:      r.Type,
		Path:      target,
		Value:     append(json.RawMessage(nil), r.Value...),
		Author:    r.Author,
		Timestamp: r.Timestamp.UTC(),
	}
	if r.Position != nil {
		p := *r.Position
		op.Position = &p
	}
	return op, nil
}
