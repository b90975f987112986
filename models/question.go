package models

// QuestionKind defines the type of a questionnaire question.
type QuestionKind string

const (
	QuestionKindMultipleChoice QuestionKind = "multiple_choice" // One option chosen from a list
	QuestionKindInput          QuestionKind = "input"           // Free text input
	QuestionKindRepeater       QuestionKind = "repeater"        // List of structured entries, optionally branchable
)

// OptionDependency ties an option (or question) to a previously recorded
// answer: the option is eligible only if questionID was answered with optionID.
// A list of dependencies is a conjunction.
type OptionDependency struct {
	QuestionID int    `json:"question_id" yaml:"question_id"`
	OptionID   string `json:"option_id" yaml:"option_id"`
}

// Option is a selectable choice on a multiple-choice question.
// NextID, when non-zero, overrides the question's DefaultNextID for
// navigation after this option is chosen. Question ids are positive, so a
// zero id always means "not set".
type Option struct {
	ID        string             `json:"id" yaml:"id"`
	Text      string             `json:"text" yaml:"text"`
	NextID    int                `json:"next_id,omitempty" yaml:"next_id,omitempty"`
	DependsOn []OptionDependency `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// RepeaterFieldType defines how a repeater field is rendered and validated.
type RepeaterFieldType string

const (
	RepeaterFieldText   RepeaterFieldType = "text"
	RepeaterFieldSelect RepeaterFieldType = "select"
)

// RepeaterField describes one column of a repeater entry.
type RepeaterField struct {
	ID       string            `json:"id" yaml:"id"`
	Label    string            `json:"label" yaml:"label"`
	Type     RepeaterFieldType `json:"type,omitempty" yaml:"type,omitempty"`
	Required bool              `json:"required,omitempty" yaml:"required,omitempty"`
	Options  []string          `json:"options,omitempty" yaml:"options,omitempty"`
}

// RepeaterConfig configures a repeater question. When Branchable is true,
// each entry may be individually entered to run a nested sub-flow over the
// questions following the repeater.
type RepeaterConfig struct {
	Fields     []RepeaterField `json:"fields" yaml:"fields"`
	MinEntries int             `json:"min_entries,omitempty" yaml:"min_entries,omitempty"`
	MaxEntries int             `json:"max_entries,omitempty" yaml:"max_entries,omitempty"`
	Branchable bool            `json:"branchable,omitempty" yaml:"branchable,omitempty"`
}

// Question is one node of the question graph. Ids are unique and positive;
// ordering of the graph slice is the traversal order, id order is only an
// authoring convention. DefaultNextID, when non-zero, redirects navigation
// after this question unless an option-level NextID takes precedence.
type Question struct {
	ID            int                `json:"id" yaml:"id"`
	Kind          QuestionKind       `json:"kind" yaml:"kind"`
	Text          string             `json:"text" yaml:"text"`
	Options       []Option           `json:"options,omitempty" yaml:"options,omitempty"`
	DefaultNextID int                `json:"default_next_id,omitempty" yaml:"default_next_id,omitempty"`
	DependsOn     []OptionDependency `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Repeater      *RepeaterConfig    `json:"repeater,omitempty" yaml:"repeater,omitempty"`
	AIButtons     []AIButton         `json:"ai_buttons,omitempty" yaml:"ai_buttons,omitempty"`
}

// AIButton is an analysis trigger rendered next to a question. Each button
// caches its generated text independently on the answer row.
type AIButton struct {
	ID     string `json:"id" yaml:"id"`
	Label  string `json:"label" yaml:"label"`
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
}

// Option returns the option with the given id, or nil.
func (q *Question) Option(optionID string) *Option {
	for i := range q.Options {
		if q.Options[i].ID == optionID {
			return &q.Options[i]
		}
	}
	return nil
}

// Graph is the arena of questions for one navigation session: the ordered
// traversal slice plus an id index. Questions reference each other by id
// only, never by pointer.
type Graph struct {
	Questions []Question
	byID      map[int]int // question id -> index in Questions
}

// NewGraph builds the id index over an ordered question list.
func NewGraph(questions []Question) *Graph {
	g := &Graph{
		Questions: questions,
		byID:      make(map[int]int, len(questions)),
	}
	for i := range questions {
		g.byID[questions[i].ID] = i
	}
	return g
}

// Len returns the number of questions in traversal order.
func (g *Graph) Len() int { return len(g.Questions) }

// At returns the question at a traversal index, or nil when out of bounds.
func (g *Graph) At(index int) *Question {
	if index < 0 || index >= len(g.Questions) {
		return nil
	}
	return &g.Questions[index]
}

// IndexOf resolves a question id to its traversal index, -1 when unknown.
// Authoring mistakes (dangling next ids) resolve to -1 and are treated as
// "no such question" by navigation, never as a failure.
func (g *Graph) IndexOf(questionID int) int {
	if idx, ok := g.byID[questionID]; ok {
		return idx
	}
	return -1
}

// ByID resolves a question id to its node, or nil.
func (g *Graph) ByID(questionID int) *Question {
	idx := g.IndexOf(questionID)
	if idx < 0 {
		return nil
	}
	return &g.Questions[idx]
}
