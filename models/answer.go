package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RootEntryIndex is the sentinel entry index of the root flow's branch
// context. Real branch indexes are 1-based, so the sentinel can never
// collide with one.
const RootEntryIndex = -1

// BranchContext identifies which branch an answer belongs to: the parent
// repeater question, the repeater entry, and the entry's 1-based position at
// branch-start time. The zero-parent, zero-entry, -1-index form is the root
// flow sentinel. Two answers for the same question are distinct records when
// their contexts differ in any field.
type BranchContext struct {
	ParentQuestionID int    `json:"parent_question_id"`
	EntryID          string `json:"entry_id"`
	EntryIndex       int    `json:"entry_index"`
}

// RootContext returns the canonical root-flow sentinel.
func RootContext() BranchContext {
	return BranchContext{EntryIndex: RootEntryIndex}
}

// IsRoot reports whether the context is the root-flow sentinel.
func (c BranchContext) IsRoot() bool {
	return c.ParentQuestionID == 0 && c.EntryID == "" && c.EntryIndex == RootEntryIndex
}

// Key renders the context as a stable map key component.
func (c BranchContext) Key() string {
	return fmt.Sprintf("%d|%s|%d", c.ParentQuestionID, c.EntryID, c.EntryIndex)
}

// FieldValue is a repeater field value: a single string or a list of
// strings on the wire, always a list in memory.
type FieldValue []string

// UnmarshalJSON accepts both the scalar and the list form.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*v = FieldValue{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("field value must be a string or a list of strings: %w", err)
	}
	*v = FieldValue(many)
	return nil
}

// First returns the first value, or "".
func (v FieldValue) First() string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// RepeaterEntry is one row of a repeater answer. The id is minted when the
// entry is created and is the stable handle branches attach to.
type RepeaterEntry struct {
	ID     string                `json:"id"`
	Values map[string]FieldValue `json:"values"`
}

// AttachmentRef is file metadata carried on an answer. The path is opaque to
// the engine; only the attachment service interprets it.
type AttachmentRef struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Path  string `json:"path"`
}

// OptionChoice is the recorded selection of a multiple-choice answer.
type OptionChoice struct {
	OptionID string `json:"option_id"`
	Text     string `json:"text"`
}

// AnswerValue is the tagged union of answer payloads, discriminated by Kind.
// Exactly one of Choice, Input or Entries is meaningful for a given kind;
// RawEntries holds an unparsable repeater payload verbatim so that
// validation can surface it instead of corrupting navigation state.
type AnswerValue struct {
	Kind        QuestionKind    `json:"kind"`
	Choice      *OptionChoice   `json:"choice,omitempty"`
	Input       string          `json:"input,omitempty"`
	Entries     []RepeaterEntry `json:"entries,omitempty"`
	RawEntries  json.RawMessage `json:"raw_entries,omitempty"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
}

// ChoiceValue builds a multiple-choice answer value.
func ChoiceValue(optionID, text string) AnswerValue {
	return AnswerValue{Kind: QuestionKindMultipleChoice, Choice: &OptionChoice{OptionID: optionID, Text: text}}
}

// InputValue builds a free-text answer value.
func InputValue(text string) AnswerValue {
	return AnswerValue{Kind: QuestionKindInput, Input: text}
}

// EntriesValue builds a repeater answer value.
func EntriesValue(entries []RepeaterEntry) AnswerValue {
	return AnswerValue{Kind: QuestionKindRepeater, Entries: entries}
}

// InputText returns the value's canonical input string, the one the AI
// response cache compares against for change detection.
func (v AnswerValue) InputText() string {
	switch v.Kind {
	case QuestionKindMultipleChoice:
		if v.Choice != nil {
			return v.Choice.Text
		}
		return ""
	case QuestionKindInput:
		return v.Input
	default:
		return ""
	}
}

// AIAnalysis carries generated analysis text on an answer: a top-level
// analysis plus one response per AI button. Button responses from different
// buttons merge key-by-key and never clobber each other.
type AIAnalysis struct {
	Analysis        string            `json:"analysis,omitempty"`
	ButtonResponses map[string]string `json:"button_responses,omitempty"`
}

// Answer is the in-memory answer record keyed by (questionID, context).
type Answer struct {
	ScopeID    string        `json:"scope_id"`
	QuestionID int           `json:"question_id"`
	Context    BranchContext `json:"context"`
	Value      AnswerValue   `json:"value"`
	Analysis   *AIAnalysis   `json:"analysis,omitempty"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Clone returns a deep-enough copy for handing snapshots to readers.
func (a *Answer) Clone() *Answer {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Analysis != nil {
		analysis := AIAnalysis{Analysis: a.Analysis.Analysis}
		if a.Analysis.ButtonResponses != nil {
			analysis.ButtonResponses = make(map[string]string, len(a.Analysis.ButtonResponses))
			for k, v := range a.Analysis.ButtonResponses {
				analysis.ButtonResponses[k] = v
			}
		}
		cp.Analysis = &analysis
	}
	return &cp
}

// AnswerRecord is the durable row behind an Answer. Value and Analysis are
// serialized JSON, following the jsonb-column convention used elsewhere in
// the schema.
type AnswerRecord struct {
	ID               uint   `gorm:"primaryKey"`
	ScopeID          string `gorm:"uniqueIndex:idx_answer_key"`
	QuestionID       int    `gorm:"uniqueIndex:idx_answer_key"`
	ParentQuestionID int    `gorm:"uniqueIndex:idx_answer_key"`
	EntryID          string `gorm:"uniqueIndex:idx_answer_key"`
	EntryIndex       int    `gorm:"uniqueIndex:idx_answer_key"`
	Value            string
	Analysis         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Record serializes the answer into its durable form.
func (a *Answer) Record() (*AnswerRecord, error) {
	valueJSON, err := json.Marshal(a.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize answer value for question %d: %w", a.QuestionID, err)
	}
	rec := &AnswerRecord{
		ScopeID:          a.ScopeID,
		QuestionID:       a.QuestionID,
		ParentQuestionID: a.Context.ParentQuestionID,
		EntryID:          a.Context.EntryID,
		EntryIndex:       a.Context.EntryIndex,
		Value:            string(valueJSON),
		UpdatedAt:        a.UpdatedAt,
	}
	if a.Analysis != nil {
		analysisJSON, err := json.Marshal(a.Analysis)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize analysis for question %d: %w", a.QuestionID, err)
		}
		rec.Analysis = string(analysisJSON)
	}
	return rec, nil
}

// Decode rebuilds the in-memory answer from a durable row.
func (r *AnswerRecord) Decode() (*Answer, error) {
	ans := &Answer{
		ScopeID:    r.ScopeID,
		QuestionID: r.QuestionID,
		Context: BranchContext{
			ParentQuestionID: r.ParentQuestionID,
			EntryID:          r.EntryID,
			EntryIndex:       r.EntryIndex,
		},
		UpdatedAt: r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.Value), &ans.Value); err != nil {
		return nil, fmt.Errorf("failed to decode answer value for question %d: %w", r.QuestionID, err)
	}
	if r.Analysis != "" {
		ans.Analysis = &AIAnalysis{}
		if err := json.Unmarshal([]byte(r.Analysis), ans.Analysis); err != nil {
			return nil, fmt.Errorf("failed to decode analysis for question %d: %w", r.QuestionID, err)
		}
	}
	return ans, nil
}

// BranchAnswers is the result of a branch-completion query: the answers
// recorded under one branch context and the completion flags derived from
// the remaining-question count at branch-start time.
type BranchAnswers struct {
	Answers    []*Answer `json:"answers"`
	HasStarted bool      `json:"has_started"`
	IsComplete bool      `json:"is_complete"`
}
