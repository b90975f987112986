package repository

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"portal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AnswerRepository is the answer store: one record per
// (scopeID, questionID, branch context) key, upserted on save. "Not found"
// is nil, nil, never an error. Saves are write-through to memory and
// flushed to the database asynchronously; a flush failure is reported
// through the error handler and never rolls the in-memory state back.
type AnswerRepository interface {
	Get(scopeID string, questionID int, branchCtx models.BranchContext) (*models.Answer, error)
	Save(scopeID string, questionID int, value models.AnswerValue, branchCtx models.BranchContext, analysisPatch *models.AIAnalysis) (*models.Answer, error)
	GetBranchAnswers(scopeID string, parentQuestionID int, entryID string, totalQuestions int) (*models.BranchAnswers, error)
	SetErrorHandler(handler func(error))
	Flush()
}

type answerRepository struct {
	mu      sync.RWMutex
	rows    map[string]*models.Answer // key: scopeID|questionID|contextKey
	seq     map[string]uint64         // per-key write sequence, last writer wins
	db      *gorm.DB                  // nil keeps the store memory-only (tests)
	flushMu sync.Mutex                // serializes database upserts
	wg      sync.WaitGroup
	onError func(error)
}

// NewAnswerRepository creates an answer repository. A nil db keeps answers
// in memory only; otherwise rows are flushed to the answers table.
func NewAnswerRepository(db *gorm.DB) AnswerRepository {
	return &answerRepository{
		rows: make(map[string]*models.Answer),
		seq:  make(map[string]uint64),
		db:   db,
		onError: func(err error) {
			log.Printf("ERROR: [AnswerRepository] persistence failure: %v", err)
		},
	}
}

func answerKey(scopeID string, questionID int, branchCtx models.BranchContext) string {
	return fmt.Sprintf("%s|%d|%s", scopeID, questionID, branchCtx.Key())
}

// SetErrorHandler installs the callback invoked when an asynchronous flush
// fails. The failure is surfaced, not retried here; the in-memory answer
// remains authoritative.
func (r *answerRepository) SetErrorHandler(handler func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if handler != nil {
		r.onError = handler
	}
}

// Get looks up the single record for the resolved key. The in-memory tier
// is write-through, so a caller never observes state older than the most
// recently completed Save for that key. Falls back to the database for rows
// from earlier processes.
func (r *answerRepository) Get(scopeID string, questionID int, branchCtx models.BranchContext) (*models.Answer, error) {
	key := answerKey(scopeID, questionID, branchCtx)

	r.mu.RLock()
	if ans, ok := r.rows[key]; ok {
		clone := ans.Clone()
		r.mu.RUnlock()
		return clone, nil
	}
	r.mu.RUnlock()

	if r.db == nil {
		return nil, nil
	}

	var rec models.AnswerRecord
	err := r.db.Where(
		"scope_id = ? AND question_id = ? AND parent_question_id = ? AND entry_id = ? AND entry_index = ?",
		scopeID, questionID, branchCtx.ParentQuestionID, branchCtx.EntryID, branchCtx.EntryIndex,
	).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		log.Printf("ERROR: [AnswerRepository] Failed to load answer for scope '%s' question %d: %v", scopeID, questionID, err)
		return nil, fmt.Errorf("failed to load answer for question %d: %w", questionID, err)
	}

	ans, err := rec.Decode()
	if err != nil {
		log.Printf("ERROR: [AnswerRepository] Corrupt answer row %d: %v", rec.ID, err)
		return nil, err
	}

	// Cache the decoded row so later gets and merges see it. A concurrent
	// Save wins: memory is only populated when the key is still absent.
	r.mu.Lock()
	if _, ok := r.rows[answerKey(scopeID, questionID, branchCtx)]; !ok {
		r.rows[answerKey(scopeID, questionID, branchCtx)] = ans.Clone()
	}
	r.mu.Unlock()

	return ans, nil
}

// Save upserts the record for the key. The new value replaces the stored
// value; analysisPatch.Analysis replaces the stored analysis only when
// non-empty; ButtonResponses merge key-by-key so independent AI buttons
// never clobber each other.
func (r *answerRepository) Save(scopeID string, questionID int, value models.AnswerValue, branchCtx models.BranchContext, analysisPatch *models.AIAnalysis) (*models.Answer, error) {
	if scopeID == "" {
		log.Printf("ERROR: [AnswerRepository] Save: scope id cannot be empty (question %d).", questionID)
		return nil, errors.New("scope id cannot be empty")
	}

	key := answerKey(scopeID, questionID, branchCtx)

	r.mu.Lock()
	existing := r.rows[key]
	if existing == nil && r.db != nil {
		// Merge against a row persisted by an earlier process, if any.
		r.mu.Unlock()
		loaded, err := r.Get(scopeID, questionID, branchCtx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if r.rows[key] == nil && loaded != nil {
			r.rows[key] = loaded
		}
		existing = r.rows[key]
	}

	merged := &models.Answer{
		ScopeID:    scopeID,
		QuestionID: questionID,
		Context:    branchCtx,
		Value:      value,
		UpdatedAt:  time.Now(),
	}
	if existing != nil && existing.Analysis != nil {
		merged.Analysis = existing.Clone().Analysis
	}
	if analysisPatch != nil {
		if merged.Analysis == nil {
			merged.Analysis = &models.AIAnalysis{}
		}
		if analysisPatch.Analysis != "" {
			merged.Analysis.Analysis = analysisPatch.Analysis
		}
		if len(analysisPatch.ButtonResponses) > 0 {
			if merged.Analysis.ButtonResponses == nil {
				merged.Analysis.ButtonResponses = make(map[string]string, len(analysisPatch.ButtonResponses))
			}
			for buttonID, text := range analysisPatch.ButtonResponses {
				merged.Analysis.ButtonResponses[buttonID] = text
			}
		}
	}

	r.rows[key] = merged
	r.seq[key]++
	seq := r.seq[key]
	snapshot := merged.Clone()
	r.mu.Unlock()

	if r.db != nil {
		r.wg.Add(1)
		go r.flush(key, snapshot, seq)
	}

	return snapshot.Clone(), nil
}

// flush persists one write. Writes for the same key are last-writer-wins: a
// flush whose sequence is no longer current skips, because a newer flush
// carries the full merged state.
func (r *answerRepository) flush(key string, ans *models.Answer, seq uint64) {
	defer r.wg.Done()

	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.RLock()
	current := r.seq[key]
	handler := r.onError
	r.mu.RUnlock()
	if current != seq {
		return
	}

	rec, err := ans.Record()
	if err != nil {
		handler(err)
		return
	}

	err = r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "scope_id"}, {Name: "question_id"},
			{Name: "parent_question_id"}, {Name: "entry_id"}, {Name: "entry_index"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"value", "analysis", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		handler(fmt.Errorf("failed to persist answer for question %d (scope '%s'): %w", ans.QuestionID, ans.ScopeID, err))
	}
}

// GetBranchAnswers counts distinct answered questions under one branch
// context. totalQuestions is the remaining-question count captured at
// branch-start time; completeness is exact equality against it.
func (r *answerRepository) GetBranchAnswers(scopeID string, parentQuestionID int, entryID string, totalQuestions int) (*models.BranchAnswers, error) {
	if r.db != nil {
		// Pull any rows from earlier processes into memory first; in-memory
		// rows win since they are at least as new.
		var recs []models.AnswerRecord
		err := r.db.Where(
			"scope_id = ? AND parent_question_id = ? AND entry_id = ?",
			scopeID, parentQuestionID, entryID,
		).Find(&recs).Error
		if err != nil {
			log.Printf("ERROR: [AnswerRepository] Failed to load branch answers for parent %d entry '%s': %v", parentQuestionID, entryID, err)
			return nil, fmt.Errorf("failed to load branch answers for parent question %d: %w", parentQuestionID, err)
		}
		r.mu.Lock()
		for i := range recs {
			ans, decErr := recs[i].Decode()
			if decErr != nil {
				log.Printf("WARN: [AnswerRepository] Skipping corrupt branch answer row %d: %v", recs[i].ID, decErr)
				continue
			}
			k := answerKey(ans.ScopeID, ans.QuestionID, ans.Context)
			if _, ok := r.rows[k]; !ok {
				r.rows[k] = ans
			}
		}
		r.mu.Unlock()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[int]bool)
	var answers []*models.Answer
	for _, ans := range r.rows {
		if ans.ScopeID != scopeID || ans.Context.IsRoot() {
			continue
		}
		if ans.Context.ParentQuestionID != parentQuestionID || ans.Context.EntryID != entryID {
			continue
		}
		if !seen[ans.QuestionID] {
			seen[ans.QuestionID] = true
			answers = append(answers, ans.Clone())
		}
	}

	answeredCount := len(seen)
	return &models.BranchAnswers{
		Answers:    answers,
		HasStarted: answeredCount > 0,
		IsComplete: answeredCount == totalQuestions,
	}, nil
}

// Flush blocks until all in-flight persistence goroutines have settled.
// Used at shutdown and in tests.
func (r *answerRepository) Flush() {
	r.wg.Wait()
}
