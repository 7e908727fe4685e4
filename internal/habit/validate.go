package habit

// ValidationError reports a violated habit business rule.
// Field is empty for rules spanning more than one field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Candidate carries the rule-relevant fields of a habit about to be
// created or updated. For partial updates the caller merges the request
// onto the stored row first; RelatedIsPleasant is the referenced habit's
// pleasant flag, already looked up by the caller.
type Candidate struct {
	IsPleasant        bool
	HasRelated        bool
	RelatedIsPleasant bool
	Reward            string
	DurationSeconds   int
	PeriodicityDays   int
}

// Validate checks the habit business rules in a fixed order and returns
// the first violation. It is pure: no I/O, no mutation.
func Validate(c Candidate) error {
	// Performing a habit must fit into 120 seconds.
	if c.DurationSeconds > 120 {
		return &ValidationError{
			Field:   "duration_seconds",
			Message: "duration_seconds must be <= 120",
		}
	}

	// A habit must recur at least weekly.
	if c.PeriodicityDays < 1 || c.PeriodicityDays > 7 {
		return &ValidationError{
			Field:   "periodicity_days",
			Message: "periodicity_days must be between 1 and 7",
		}
	}

	// Reward and related habit are mutually exclusive reinforcements.
	if c.Reward != "" && c.HasRelated {
		return &ValidationError{
			Message: "cannot set both reward and related_habit",
		}
	}

	// Only pleasant habits may serve as reinforcement.
	if c.HasRelated && !c.RelatedIsPleasant {
		return &ValidationError{
			Field:   "related_habit",
			Message: "related_habit must be pleasant (is_pleasant=true)",
		}
	}

	// A pleasant habit is a reward in itself.
	if c.IsPleasant && (c.Reward != "" || c.HasRelated) {
		return &ValidationError{
			Message: "pleasant habit cannot have reward or related_habit",
		}
	}

	return nil
}
