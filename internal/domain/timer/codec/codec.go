// Package codec converts timer records to and from protobuf Struct values.
//
// The gRPC API, the MQTT state topic and the JSON file store share this
// encoding, so a record looks the same on disk and on the wire.
package codec

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/countdown/internal/domain/timer"
)

// Field names of the timer struct.
const (
	FieldID          = "id"
	FieldCreatedAt   = "created_at"
	FieldDuration    = "duration_ms"
	FieldRemaining   = "remaining_ms"
	FieldFireAt      = "fire_at"
	FieldState       = "state"
	FieldAlarmHandle = "alarm_handle"
	FieldUpdatedAt   = "updated_at"
	FieldDeleted     = "deleted"
)

// ErrMalformedTimer is returned when a struct does not describe a timer.
var ErrMalformedTimer = errors.New("malformed timer struct")

// ToStruct encodes a timer. Durations are whole milliseconds and
// timestamps are RFC 3339 strings with nanoseconds.
func ToStruct(t *domain.Timer) (*structpb.Struct, error) {
	fields := map[string]any{
		FieldID:        t.ID,
		FieldCreatedAt: formatTime(t.CreatedAt),
		FieldDuration:  t.Duration.Milliseconds(),
		FieldRemaining: t.Remaining.Milliseconds(),
		FieldState:     string(t.State),
		FieldUpdatedAt: formatTime(t.UpdatedAt),
	}

	if t.FireAt != nil {
		fields[FieldFireAt] = formatTime(*t.FireAt)
	}

	if t.AlarmHandle != "" {
		fields[FieldAlarmHandle] = t.AlarmHandle
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode timer %s: %w", t.ID, err)
	}

	return s, nil
}

// FromStruct decodes a timer and validates it.
func FromStruct(s *structpb.Struct) (*domain.Timer, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil struct", ErrMalformedTimer)
	}

	fields := s.GetFields()

	t := &domain.Timer{
		ID:          fields[FieldID].GetStringValue(),
		Duration:    millis(fields[FieldDuration]),
		Remaining:   millis(fields[FieldRemaining]),
		State:       domain.State(fields[FieldState].GetStringValue()),
		AlarmHandle: fields[FieldAlarmHandle].GetStringValue(),
	}

	var err error

	if t.CreatedAt, err = parseTime(fields, FieldCreatedAt); err != nil {
		return nil, err
	}

	if t.UpdatedAt, err = parseTime(fields, FieldUpdatedAt); err != nil {
		return nil, err
	}

	if _, ok := fields[FieldFireAt]; ok {
		fireAt, err := parseTime(fields, FieldFireAt)
		if err != nil {
			return nil, err
		}

		t.FireAt = &fireAt
	}

	if err = t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTimer, err)
	}

	return t, nil
}

// ToListValue encodes a list of timers.
func ToListValue(timers []*domain.Timer) (*structpb.ListValue, error) {
	values := make([]*structpb.Value, 0, len(timers))

	for _, t := range timers {
		s, err := ToStruct(t)
		if err != nil {
			return nil, err
		}

		values = append(values, structpb.NewStructValue(s))
	}

	return &structpb.ListValue{Values: values}, nil
}

// FromListValue decodes a list of timers.
func FromListValue(list *structpb.ListValue) ([]*domain.Timer, error) {
	timers := make([]*domain.Timer, 0, len(list.GetValues()))

	for i, value := range list.GetValues() {
		t, err := FromStruct(value.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}

		timers = append(timers, t)
	}

	return timers, nil
}

// DeletedStruct encodes the removal of a timer in a watch stream.
func DeletedStruct(id string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldID:      structpb.NewStringValue(id),
		FieldDeleted: structpb.NewBoolValue(true),
	}}
}

// IsDeleted reports whether s announces a removal.
func IsDeleted(s *structpb.Struct) bool {
	return s.GetFields()[FieldDeleted].GetBoolValue()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(fields map[string]*structpb.Value, name string) (time.Time, error) {
	raw := fields[name].GetStringValue()
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: missing %s", ErrMalformedTimer, name)
	}

	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %w", ErrMalformedTimer, name, err)
	}

	return parsed, nil
}

func millis(v *structpb.Value) time.Duration {
	return time.Duration(int64(v.GetNumberValue())) * time.Millisecond
}
