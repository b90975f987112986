package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"portal/models"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// GraphRepository loads and replaces the question graph. The graph is
// read-mostly: navigation sessions snapshot it at start and authoring edits
// replace it wholesale (no incremental patching).
type GraphRepository interface {
	Load() ([]models.Question, int, error) // ordered questions + version; nil, 0 when no graph stored
	Replace(questions []models.Question) (int, error)
	SeedFromFile(path string) error
}

type graphRepository struct {
	db *gorm.DB
}

// NewGraphRepository creates a graph repository backed by the graphs table.
func NewGraphRepository(db *gorm.DB) GraphRepository {
	return &graphRepository{db: db}
}

// Load returns the newest stored graph definition.
func (r *graphRepository) Load() ([]models.Question, int, error) {
	var rec models.GraphRecord
	err := r.db.Order("version desc").First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Println("INFO: [GraphRepository] No question graph stored yet.")
			return nil, 0, nil
		}
		log.Printf("ERROR: [GraphRepository] Failed to load question graph: %v", err)
		return nil, 0, fmt.Errorf("failed to load question graph: %w", err)
	}

	var questions []models.Question
	if err := json.Unmarshal([]byte(rec.Definition), &questions); err != nil {
		log.Printf("ERROR: [GraphRepository] Corrupt graph definition (version %d): %v", rec.Version, err)
		return nil, 0, fmt.Errorf("corrupt graph definition (version %d): %w", rec.Version, err)
	}

	log.Printf("INFO: [GraphRepository] Loaded question graph version %d with %d questions.", rec.Version, len(questions))
	return questions, rec.Version, nil
}

// Replace validates and stores a new graph definition as the next version.
// Dangling next-id references are an authoring mistake that must not break
// sessions (navigation treats them as "no such question"), so they only
// warn here.
func (r *graphRepository) Replace(questions []models.Question) (int, error) {
	if err := validateGraph(questions); err != nil {
		return 0, err
	}

	definition, err := json.Marshal(questions)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize question graph: %w", err)
	}

	_, version, loadErr := r.Load()
	if loadErr != nil {
		return 0, loadErr
	}
	next := version + 1

	rec := models.GraphRecord{Version: next, Definition: string(definition)}
	if err := r.db.Create(&rec).Error; err != nil {
		log.Printf("ERROR: [GraphRepository] Failed to store question graph version %d: %v", next, err)
		return 0, fmt.Errorf("failed to store question graph version %d: %w", next, err)
	}

	log.Printf("INFO: [GraphRepository] Stored question graph version %d with %d questions.", next, len(questions))
	return next, nil
}

// SeedFromFile loads a YAML graph document into the store when no graph is
// stored yet. Missing seed files are not an error; the admin API can author
// a graph later.
func (r *graphRepository) SeedFromFile(path string) error {
	existing, _, err := r.Load()
	if err != nil {
		return err
	}
	if existing != nil {
		log.Println("INFO: [GraphRepository] Graph already stored; skipping seed file.")
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("WARN: [GraphRepository] Seed file '%s' not found; starting with an empty graph.", path)
			return nil
		}
		return fmt.Errorf("failed to read graph seed file '%s': %w", path, err)
	}

	var doc struct {
		Questions []models.Question `yaml:"questions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse graph seed file '%s': %w", path, err)
	}

	if _, err := r.Replace(doc.Questions); err != nil {
		return err
	}
	log.Printf("INFO: [GraphRepository] Seeded question graph from '%s' (%d questions).", path, len(doc.Questions))
	return nil
}

// validateGraph enforces the structural invariants authoring must not
// break: unique positive question ids and option ids unique within their
// question. Dangling references are logged, not rejected.
func validateGraph(questions []models.Question) error {
	ids := make(map[int]bool, len(questions))
	for i := range questions {
		q := &questions[i]
		if q.ID <= 0 {
			return fmt.Errorf("question at position %d has non-positive id %d", i, q.ID)
		}
		if ids[q.ID] {
			return fmt.Errorf("duplicate question id %d", q.ID)
		}
		ids[q.ID] = true

		optIDs := make(map[string]bool, len(q.Options))
		for _, opt := range q.Options {
			if opt.ID == "" {
				return fmt.Errorf("question %d has an option with an empty id", q.ID)
			}
			if optIDs[opt.ID] {
				return fmt.Errorf("question %d has duplicate option id '%s'", q.ID, opt.ID)
			}
			optIDs[opt.ID] = true
		}
	}

	for i := range questions {
		q := &questions[i]
		if q.DefaultNextID != 0 && !ids[q.DefaultNextID] {
			log.Printf("WARN: [GraphRepository] Question %d default_next_id %d does not exist; navigation will treat it as end of flow.", q.ID, q.DefaultNextID)
		}
		for _, opt := range q.Options {
			if opt.NextID != 0 && !ids[opt.NextID] {
				log.Printf("WARN: [GraphRepository] Question %d option '%s' next_id %d does not exist; navigation will treat it as end of flow.", q.ID, opt.ID, opt.NextID)
			}
		}
	}

	return nil
}
