package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/iep-collab-api/internal/models"
	appErrors "github.com/noah-isme/iep-collab-api/pkg/errors"
)

// ErrSuperseded marks a field update older than the value already stored.
var ErrSuperseded = appErrors.New("SUPERSEDED", http.StatusConflict, "update superseded by a newer write")

// ErrDuplicateElement marks an insert whose element id already exists.
var ErrDuplicateElement = appErrors.New("DUPLICATE_ELEMENT", http.StatusConflict, "element already present")

const dateLayout = "2006-01-02"

// GoalValue is the insert payload for the goals collection.
type GoalValue struct {
	ID                 string `json:"id,omitempty"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	MeasurableCriteria string `json:"measurableCriteria"`
	Domain             string `json:"domain,omitempty"`
	TargetDate         string `json:"targetDate,omitempty"`
}

// AccommodationValue is the insert payload for the accommodations collection.
type AccommodationValue struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	Setting     string `json:"setting,omitempty"`
}

type elementRef struct {
	ID string `json:"id"`
}

// OperationApplier validates and applies operations to a single document.
type OperationApplier struct {
	lifecycle *LifecycleStateMachine
	now       func() time.Time
}

// NewOperationApplier constructs the CRDT engine.
func NewOperationApplier(lifecycle *LifecycleStateMachine, now func() time.Time) *OperationApplier {
	if lifecycle == nil {
		lifecycle = NewLifecycleStateMachine()
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &OperationApplier{lifecycle: lifecycle, now: now}
}

// Apply mutates the entry's document. On error the document is left untouched.
func (a *OperationApplier) Apply(entry *documentEntry, op models.Operation) error {
	if strings.TrimSpace(op.Author) == "" || op.Timestamp.IsZero() {
		return appErrors.Clone(appErrors.ErrValidation, "operation requires author and timestamp")
	}
	doc := entry.doc
	if !a.lifecycle.CanEdit(doc.Status) {
		return appErrors.Clone(appErrors.ErrStateConflict, fmt.Sprintf("document is %s and cannot be edited", doc.Status))
	}

	var err error
	switch op.Type {
	case models.OperationUpdate:
		err = a.applyUpdate(entry, op)
	case models.OperationInsert:
		err = a.applyInsert(doc, op)
	case models.OperationDelete:
		err = a.applyDelete(doc, op)
	default:
		err = appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported operation type %q", op.Type))
	}
	if err != nil {
		return err
	}

	if doc.VectorClock == nil {
		doc.VectorClock = models.VectorClock{}
	}
	doc.VectorClock.Increment(op.Author)
	doc.UpdatedAt = a.now()
	doc.UpdatedBy = op.Author
	doc.Version++
	entry.log.Append(op.Record(doc.Version))
	return nil
}

func (a *OperationApplier) applyUpdate(entry *documentEntry, op models.Operation) error {
	doc := entry.doc
	value, err := decodeString(op.Value)
	if err != nil {
		return err
	}
	stamp := fieldStamp{Timestamp: op.Timestamp, Author: op.Author}

	switch op.Path.Kind {
	case models.TargetScalar:
		key := "doc:" + string(op.Path.Scalar)
		if err := checkRegister(entry, key, stamp); err != nil {
			return err
		}
		if err := setScalar(doc, op.Path.Scalar, value); err != nil {
			return err
		}
		entry.registers[key] = stamp
	case models.TargetGoalField:
		if op.Path.Index >= len(doc.Goals) {
			return indexOutOfRange(models.CollectionGoals, op.Path.Index, len(doc.Goals))
		}
		goal := &doc.Goals[op.Path.Index]
		key := "goal:" + goal.ID + ":" + string(op.Path.Goal)
		if err := checkRegister(entry, key, stamp); err != nil {
			return err
		}
		if err := setGoalField(goal, op.Path.Goal, value); err != nil {
			return err
		}
		touchGoal(goal, op.Author, a.now())
		entry.registers[key] = stamp
	case models.TargetAccommodationField:
		if op.Path.Index >= len(doc.Accommodations) {
			return indexOutOfRange(models.CollectionAccommodations, op.Path.Index, len(doc.Accommodations))
		}
		acc := &doc.Accommodations[op.Path.Index]
		key := "accommodation:" + acc.ID + ":" + string(op.Path.Accommodation)
		if err := checkRegister(entry, key, stamp); err != nil {
			return err
		}
		setAccommodationField(acc, op.Path.Accommodation, value)
		touchAccommodation(acc, op.Author, a.now())
		entry.registers[key] = stamp
	default:
		return appErrors.Clone(appErrors.ErrValidation, "update requires a field path")
	}
	return nil
}

func (a *OperationApplier) applyInsert(doc *models.IEPDocument, op models.Operation) error {
	if op.Path.Kind != models.TargetCollection {
		return appErrors.Clone(appErrors.ErrValidation, "insert requires a collection path")
	}
	now := a.now()
	switch op.Path.Collection {
	case models.CollectionGoals:
		var in GoalValue
		if err := json.Unmarshal(op.Value, &in); err != nil {
			return appErrors.Clone(appErrors.ErrValidation, "goal value must be an object")
		}
		if in.ID != "" && goalIndex(doc, in.ID) >= 0 {
			return appErrors.Clone(ErrDuplicateElement, fmt.Sprintf("goal %s already present", in.ID))
		}
		if in.TargetDate != "" {
			if _, err := time.Parse(dateLayout, in.TargetDate); err != nil {
				return appErrors.Clone(appErrors.ErrValidation, "targetDate must be YYYY-MM-DD")
			}
		}
		goal := models.Goal{
			ID:                 in.ID,
			Title:              strings.TrimSpace(in.Title),
			Description:        strings.TrimSpace(in.Description),
			MeasurableCriteria: strings.TrimSpace(in.MeasurableCriteria),
			Domain:             strings.TrimSpace(in.Domain),
			TargetDate:         in.TargetDate,
			Version:            1,
			VectorClock:        models.NewVectorClock(op.Author),
			CreatedBy:          op.Author,
			UpdatedBy:          op.Author,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if goal.ID == "" {
			goal.ID = uuid.NewString()
		}
		doc.Goals = insertAt(doc.Goals, goal, op.Position)
	case models.CollectionAccommodations:
		var in AccommodationValue
		if err := json.Unmarshal(op.Value, &in); err != nil {
			return appErrors.Clone(appErrors.ErrValidation, "accommodation value must be an object")
		}
		if in.ID != "" && accommodationIndex(doc, in.ID) >= 0 {
			return appErrors.Clone(ErrDuplicateElement, fmt.Sprintf("accommodation %s already present", in.ID))
		}
		acc := models.Accommodation{
			ID:          in.ID,
			Title:       strings.TrimSpace(in.Title),
			Description: strings.TrimSpace(in.Description),
			Category:    strings.TrimSpace(in.Category),
			Setting:     strings.TrimSpace(in.Setting),
			Version:     1,
			VectorClock: models.NewVectorClock(op.Author),
			CreatedBy:   op.Author,
			UpdatedBy:   op.Author,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if acc.ID == "" {
			acc.ID = uuid.NewString()
		}
		doc.Accommodations = insertAt(doc.Accommodations, acc, op.Position)
	case models.CollectionSpecialFactors:
		value, err := decodeString(op.Value)
		if err != nil {
			return err
		}
		if value == "" {
			return appErrors.Clone(appErrors.ErrValidation, "special factor must not be empty")
		}
		doc.SpecialFactors = insertAt(doc.SpecialFactors, value, op.Position)
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown collection %q", op.Path.Collection))
	}
	return nil
}

func (a *OperationApplier) applyDelete(doc *models.IEPDocument, op models.Operation) error {
	if op.Path.Kind != models.TargetCollection {
		return appErrors.Clone(appErrors.ErrValidation, "delete requires a collection path")
	}
	switch op.Path.Collection {
	case models.CollectionGoals:
		idx, err := resolveDeleteIndex(op, len(doc.Goals), func(id string) int { return goalIndex(doc, id) })
		if err != nil {
			return err
		}
		doc.Goals = append(doc.Goals[:idx], doc.Goals[idx+1:]...)
	case models.CollectionAccommodations:
		idx, err := resolveDeleteIndex(op, len(doc.Accommodations), func(id string) int { return accommodationIndex(doc, id) })
		if err != nil {
			return err
		}
		doc.Accommodations = append(doc.Accommodations[:idx], doc.Accommodations[idx+1:]...)
	case models.CollectionSpecialFactors:
		idx, err := resolveDeleteIndex(op, len(doc.SpecialFactors), nil)
		if err != nil {
			return err
		}
		doc.SpecialFactors = append(doc.SpecialFactors[:idx], doc.SpecialFactors[idx+1:]...)
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown collection %q", op.Path.Collection))
	}
	return nil
}

// resolveDeleteIndex prefers an element id carried in the value over the position.
func resolveDeleteIndex(op models.Operation, length int, byID func(string) int) (int, error) {
	if byID != nil && len(op.Value) > 0 {
		var ref elementRef
		if err := json.Unmarshal(op.Value, &ref); err == nil && ref.ID != "" {
			idx := byID(ref.ID)
			if idx < 0 {
				return 0, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s element %s not found", op.Path.Collection, ref.ID))
			}
			return idx, nil
		}
	}
	if op.Position == nil {
		return 0, appErrors.Clone(appErrors.ErrValidation, "delete requires a position")
	}
	if *op.Position < 0 || *op.Position >= length {
		return 0, indexOutOfRange(op.Path.Collection, *op.Position, length)
	}
	return *op.Position, nil
}

func checkRegister(entry *documentEntry, key string, stamp fieldStamp) error {
	if current, ok := entry.registers[key]; ok && stamp.before(current) {
		return appErrors.Clone(ErrSuperseded, fmt.Sprintf("%s was written at %s", key, current.Timestamp.Format(time.RFC3339Nano)))
	}
	return nil
}

func setScalar(doc *models.IEPDocument, field models.ScalarField, value string) error {
	switch field {
	case models.FieldStudentName:
		doc.StudentName = value
	case models.FieldSchoolYear:
		doc.SchoolYear = value
	case models.FieldEffectiveDate, models.FieldExpiryDate:
		if value != "" {
			if _, err := time.Parse(dateLayout, value); err != nil {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be YYYY-MM-DD", field))
			}
		}
		if field == models.FieldEffectiveDate {
			doc.EffectiveDate = value
		} else {
			doc.ExpiryDate = value
		}
	case models.FieldPresentLevels:
		doc.PresentLevels = value
	case models.FieldTransitionServices:
		doc.TransitionServices = value
	case models.FieldPlacement:
		doc.Placement = value
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown field %q", field))
	}
	return nil
}

func setGoalField(goal *models.Goal, field models.GoalField, value string) error {
	switch field {
	case models.GoalFieldTitle:
		goal.Title = value
	case models.GoalFieldDescription:
		goal.Description = value
	case models.GoalFieldMeasurableCriteria:
		goal.MeasurableCriteria = value
	case models.GoalFieldDomain:
		goal.Domain = value
	case models.GoalFieldTargetDate:
		if value != "" {
			if _, err := time.Parse(dateLayout, value); err != nil {
				return appErrors.Clone(appErrors.ErrValidation, "target_date must be YYYY-MM-DD")
			}
		}
		goal.TargetDate = value
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown goal field %q", field))
	}
	return nil
}

func setAccommodationField(acc *models.Accommodation, field models.AccommodationField, value string) {
	switch field {
	case models.AccommodationFieldTitle:
		acc.Title = value
	case models.AccommodationFieldDescription:
		acc.Description = value
	case models.AccommodationFieldCategory:
		acc.Category = value
	case models.AccommodationFieldSetting:
		acc.Setting = value
	}
}

func touchGoal(goal *models.Goal, author string, now time.Time) {
	if goal.VectorClock == nil {
		goal.VectorClock = models.VectorClock{}
	}
	goal.VectorClock.Increment(author)
	goal.Version++
	goal.UpdatedBy = author
	goal.UpdatedAt = now
}

func touchAccommodation(acc *models.Accommodation, author string, now time.Time) {
	if acc.VectorClock == nil {
		acc.VectorClock = models.VectorClock{}
	}
	acc.VectorClock.Increment(author)
	acc.Version++
	acc.UpdatedBy = author
	acc.UpdatedAt = now
}

func decodeString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "value is required")
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "value must be a string")
	}
	return strings.TrimSpace(value), nil
}

func insertAt[T any](items []T, item T, position *int) []T {
	if position == nil || *position < 0 || *position >= len(items) {
		return append(items, item)
	}
	items = append(items, item)
	copy(items[*position+1:], items[*position:])
	items[*position] = item
	return items
}

func goalIndex(doc *models.IEPDocument, id string) int {
	for i := range doc.Goals {
		if doc.Goals[i].ID == id {
			return i
		}
	}
	return -1
}

func accommodationIndex(doc *models.IEPDocument, id string) int {
	for i := range doc.Accommodations {
		if doc.Accommodations[i].ID == id {
			return i
		}
	}
	return -1
}

func indexOutOfRange(collection models.Collection, index, length int) error {
	return appErrors.Clone(appErrors.ErrIndexOutOfRange, fmt.Sprintf("%s index %d out of range (len %d)", collection, index, length))
}
