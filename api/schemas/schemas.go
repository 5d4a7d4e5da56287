package schemas

import "time"

// TranscriptEntry records one exchange with the text-generation service.
type TranscriptEntry struct {
	Prompt       string    `json:"prompt"`
	Reply        string    `json:"reply"`
	Model        string    `json:"model,omitempty"`
	InputTokens  int64     `json:"inputTokens,omitempty"`
	OutputTokens int64     `json:"outputTokens,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ActionLoopState is the durable record of an in-progress (or finished) user
// request. DescriptionHistory, PreviousCode and Transcript are parallel logs:
// index i of each refers to the same tick.
type ActionLoopState struct {
	UserRequest         string            `json:"userRequest"`
	DescriptionHistory  []string          `json:"descriptionHistory"`
	PreviousCode        []string          `json:"previousCode"`
	Transcript          []TranscriptEntry `json:"transcript"`
	Done                bool              `json:"done"`
	FailureReason       string            `json:"failureReason,omitempty"`
	ConsecutiveFailures int               `json:"consecutiveFailures,omitempty"`
	UpdatedAt           time.Time         `json:"updatedAt,omitempty"`
}

// DefaultState is the state used when nothing has been persisted yet. It is
// idle: Done is true so no loop starts on its own.
func DefaultState() ActionLoopState {
	return ActionLoopState{
		DescriptionHistory: []string{},
		PreviousCode:       []string{},
		Transcript:         []TranscriptEntry{},
		Done:               true,
	}
}

// NewRequestState returns a fresh record for a newly submitted request.
func NewRequestState(request string, now time.Time) ActionLoopState {
	s := DefaultState()
	s.UserRequest = request
	s.Done = false
	s.UpdatedAt = now
	return s
}

// Len is the number of recorded ticks.
func (s ActionLoopState) Len() int { return len(s.DescriptionHistory) }

// Consistent reports whether the three logs have the same length.
func (s ActionLoopState) Consistent() bool {
	return len(s.DescriptionHistory) == len(s.PreviousCode) &&
		len(s.PreviousCode) == len(s.Transcript)
}

// Append records one tick. The three logs always grow together.
func (s *ActionLoopState) Append(description, code string, entry TranscriptEntry) {
	s.DescriptionHistory = append(s.DescriptionHistory, description)
	s.PreviousCode = append(s.PreviousCode, code)
	s.Transcript = append(s.Transcript, entry)
}

// Trim evicts the oldest ticks until at most limit remain and returns how
// many were dropped. A non-positive limit disables the cap.
func (s *ActionLoopState) Trim(limit int) int {
	n := s.Len()
	if limit <= 0 || n <= limit {
		return 0
	}
	drop := n - limit
	s.DescriptionHistory = append([]string{}, s.DescriptionHistory[drop:]...)
	s.PreviousCode = append([]string{}, s.PreviousCode[drop:]...)
	s.Transcript = append([]TranscriptEntry{}, s.Transcript[drop:]...)
	return drop
}

// Normalize replaces nil logs with empty ones so the record serializes to
// arrays, and repairs a record whose logs drifted apart by truncating all
// three to the shortest.
func (s *ActionLoopState) Normalize() {
	if s.DescriptionHistory == nil {
		s.DescriptionHistory = []string{}
	}
	if s.PreviousCode == nil {
		s.PreviousCode = []string{}
	}
	if s.Transcript == nil {
		s.Transcript = []TranscriptEntry{}
	}
	if s.Consistent() {
		return
	}
	n := min(len(s.DescriptionHistory), len(s.PreviousCode), len(s.Transcript))
	s.DescriptionHistory = s.DescriptionHistory[:n]
	s.PreviousCode = s.PreviousCode[:n]
	s.Transcript = s.Transcript[:n]
}

// Clone returns a deep copy.
func (s ActionLoopState) Clone() ActionLoopState {
	c := s
	c.DescriptionHistory = append([]string{}, s.DescriptionHistory...)
	c.PreviousCode = append([]string{}, s.PreviousCode...)
	c.Transcript = append([]TranscriptEntry{}, s.Transcript...)
	return c
}

// GeneratedAction is the parsed reply of the generation service.
type GeneratedAction struct {
	Description string `json:"description"`
	Code        string `json:"code"`
	Done        bool   `json:"done"`
}

// Empty reports whether the reply yielded nothing usable.
func (a GeneratedAction) Empty() bool {
	return a.Description == "" && a.Code == "" && !a.Done
}

// LoopStatus is the read-only view of the loop shown by the presentation shell.
type LoopStatus struct {
	Request       string   `json:"request"`
	Loading       bool     `json:"loading"`
	Done          bool     `json:"done"`
	History       []string `json:"history"`
	FailureReason string   `json:"failureReason,omitempty"`
}
