package track

// ResponseSeparator joins repeated responses from the same participant so no
// utterance is lost to overwriting.
const ResponseSeparator = "\t"

// Record tracks which required participants have responded to one step.
type Record struct {
	StepID        string            `json:"step_id"`
	RequiredIDs   []string          `json:"required_ids"`
	Responses     map[string]string `json:"responses"`
	SatisfiedOnce bool              `json:"satisfied_once"`
}

// clone deep-copies a record so callers never share backing storage.
func (r Record) clone() Record {
	required := make([]string, len(r.RequiredIDs))
	copy(required, r.RequiredIDs)
	responses := make(map[string]string, len(r.Responses))
	for id, text := range r.Responses {
		responses[id] = text
	}
	r.RequiredIDs = required
	r.Responses = responses
	return r
}

// Clone deep-copies a record set.
func Clone(records map[string]Record) map[string]Record {
	if records == nil {
		return nil
	}
	out := make(map[string]Record, len(records))
	for stepID, record := range records {
		out[stepID] = record.clone()
	}
	return out
}

// Start creates a record for stepID with the given required participant ids.
// It is a no-op when a record for stepID already exists.
func Start(records map[string]Record, stepID string, requiredIDs []string) map[string]Record {
	if _, exists := records[stepID]; exists {
		return records
	}
	out := Clone(records)
	if out == nil {
		out = make(map[string]Record, 1)
	}
	required := make([]string, len(requiredIDs))
	copy(required, requiredIDs)
	out[stepID] = Record{
		StepID:      stepID,
		RequiredIDs: required,
		Responses:   make(map[string]string),
	}
	return out
}

// Respond records a participant response for stepID. A repeat response is
// appended to the earlier one with ResponseSeparator rather than overwriting.
// When every required participant has responded the record latches satisfied.
// Responding to a step with no record is a no-op.
func Respond(records map[string]Record, stepID, participantID, text string) map[string]Record {
	record, exists := records[stepID]
	if !exists {
		return records
	}
	out := Clone(records)
	record = out[stepID]
	if prior, ok := record.Responses[participantID]; ok {
		record.Responses[participantID] = prior + ResponseSeparator + text
	} else {
		record.Responses[participantID] = text
	}
	record.SatisfiedOnce = record.SatisfiedOnce || allResponded(record)
	out[stepID] = record
	return out
}

// Satisfied reports whether the step has gathered every required response.
// A step with no record is never satisfied through tracking.
func Satisfied(records map[string]Record, stepID string) bool {
	record, exists := records[stepID]
	if !exists {
		return false
	}
	return record.SatisfiedOnce || allResponded(record)
}

// DropRequired removes a departed participant from the requirement set of
// every unsatisfied record and re-evaluates the latch, so a mid-wait leave
// cannot block a step forever.
func DropRequired(records map[string]Record, participantID string) map[string]Record {
	changed := false
	out := Clone(records)
	for stepID, record := range out {
		if record.SatisfiedOnce {
			continue
		}
		required := record.RequiredIDs[:0:0]
		for _, id := range record.RequiredIDs {
			if id != participantID {
				required = append(required, id)
			}
		}
		if len(required) == len(record.RequiredIDs) {
			continue
		}
		record.RequiredIDs = required
		record.SatisfiedOnce = allResponded(record)
		out[stepID] = record
		changed = true
	}
	if !changed {
		return records
	}
	return out
}

func allResponded(record Record) bool {
	for _, id := range record.RequiredIDs {
		if _, ok := record.Responses[id]; !ok {
			return false
		}
	}
	return true
}
