package services

import (
	"fmt"
	"log"

	"portal/models"
)

// BranchState is the lifecycle of one repeater entry's branch.
type BranchState string

const (
	BranchNotStarted BranchState = "not_started"
	BranchInProgress BranchState = "in_progress"
	BranchComplete   BranchState = "complete"
)

// Branch is the runtime state of one entry's traversal of the questions
// following its parent repeater. Branches are never destroyed, only
// deactivated, so their completion state survives re-entry.
type Branch struct {
	EntryID          string
	EntryValues      map[string]models.FieldValue
	ParentQuestionID int
	ParentRepeater   *models.RepeaterConfig
	// EntryIndex is 1 + the entry's position within the repeater's entries
	// at branch-start time. Immutable for the branch's lifetime even if the
	// entries are later reordered, so historical answers stay addressable.
	EntryIndex int
	// TotalQuestions is the remaining-question count captured at branch
	// start; completion is exact equality of answered questions against it.
	TotalQuestions int
	State          BranchState
}

// Context returns the branch context its answers are keyed under.
func (b *Branch) Context() models.BranchContext {
	return models.BranchContext{
		ParentQuestionID: b.ParentQuestionID,
		EntryID:          b.EntryID,
		EntryIndex:       b.EntryIndex,
	}
}

// BranchManager owns the branch collection and the active-branch stack for
// one session. It is not safe for concurrent use; the owning session
// serializes access.
type BranchManager struct {
	stack    []*Branch
	branches map[string]*Branch // parentQuestionID|entryID -> branch
}

// NewBranchManager creates an empty branch manager.
func NewBranchManager() *BranchManager {
	return &BranchManager{branches: make(map[string]*Branch)}
}

func branchKey(parentQuestionID int, entryID string) string {
	return fmt.Sprintf("%d|%s", parentQuestionID, entryID)
}

// Active returns the branch on top of the stack, or nil in the root flow.
func (m *BranchManager) Active() *Branch {
	if len(m.stack) == 0 {
		return nil
	}
	return m.stack[len(m.stack)-1]
}

// ActiveContext returns the active branch's context, or the root sentinel.
func (m *BranchManager) ActiveContext() models.BranchContext {
	if b := m.Active(); b != nil {
		return b.Context()
	}
	return models.RootContext()
}

// Depth returns the number of active branches. The stack supports nesting,
// but Advance never opens a second level: a repeater reached inside a
// branch is treated as a plain entry-list question. The observed product
// behavior only exercises depth 1 and richer nesting is deliberately not
// inferred.
func (m *BranchManager) Depth() int { return len(m.stack) }

// Lookup returns the branch for a repeater entry if one was ever started.
func (m *BranchManager) Lookup(parentQuestionID int, entryID string) *Branch {
	return m.branches[branchKey(parentQuestionID, entryID)]
}

// StartBranch activates the branch for one entry of a branchable repeater
// and pushes it onto the stack. The entry index is pinned at first start:
// re-entering an existing branch refreshes its entry values but never its
// index. remainingQuestions is the count of questions after the parent
// repeater at this moment, captured for the completion check.
func (m *BranchManager) StartBranch(parent *models.Question, entryID string, entries []models.RepeaterEntry, remainingQuestions int) (*Branch, error) {
	if parent.Repeater == nil || !parent.Repeater.Branchable {
		return nil, newValidationError("question %d is not a branchable repeater", parent.ID)
	}

	position := -1
	var entry *models.RepeaterEntry
	for i := range entries {
		if entries[i].ID == entryID {
			position = i
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		return nil, newValidationError("entry '%s' does not exist on question %d", entryID, parent.ID)
	}

	key := branchKey(parent.ID, entryID)
	branch, exists := m.branches[key]
	if !exists {
		branch = &Branch{
			EntryID:          entryID,
			ParentQuestionID: parent.ID,
			ParentRepeater:   parent.Repeater,
			EntryIndex:       position + 1,
			TotalQuestions:   remainingQuestions,
			State:            BranchInProgress,
		}
		m.branches[key] = branch
		log.Printf("INFO: [BranchManager] Started branch for question %d entry '%s' (index %d, %d questions).",
			parent.ID, entryID, branch.EntryIndex, remainingQuestions)
	} else {
		// Re-entry: a complete branch reopens for editing.
		if branch.State == BranchComplete {
			branch.State = BranchInProgress
		}
		branch.TotalQuestions = remainingQuestions
		log.Printf("INFO: [BranchManager] Re-entered branch for question %d entry '%s' (index %d).",
			parent.ID, entryID, branch.EntryIndex)
	}
	branch.EntryValues = entry.Values

	m.stack = append(m.stack, branch)
	return branch, nil
}

// IsLastBranchQuestion reports whether a branch is active and the given
// traversal index is the terminal node of its sub-flow. The sub-flow is
// simply every question after the repeater in order, so the terminal node
// is the last question of the graph.
func (m *BranchManager) IsLastBranchQuestion(index, graphLen int) bool {
	return m.Active() != nil && index == graphLen-1
}

// Pop deactivates the active branch, optionally marking it complete first.
// The branch object survives so its answers and completion state can be
// reviewed or resumed.
func (m *BranchManager) Pop(markComplete bool) *Branch {
	branch := m.Active()
	if branch == nil {
		return nil
	}
	if markComplete {
		branch.State = BranchComplete
	}
	m.stack = m.stack[:len(m.stack)-1]
	log.Printf("INFO: [BranchManager] Deactivated branch for question %d entry '%s' (state %s).",
		branch.ParentQuestionID, branch.EntryID, branch.State)
	return branch
}

// Reopen flips a complete branch back to in-progress after one of its
// answers was modified, so the completion check runs again.
func (m *BranchManager) Reopen(parentQuestionID int, entryID string) {
	if branch := m.Lookup(parentQuestionID, entryID); branch != nil && branch.State == BranchComplete {
		branch.State = BranchInProgress
	}
}
