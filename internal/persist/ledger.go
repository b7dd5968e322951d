package persist

import (
	"sync"

	"rythmo/internal/store"
)

// Ledger is the explicit record of everything one run changed.
type Ledger struct {
	ProjectID int64
	RunID     string

	mu           sync.Mutex
	sceneChanges []int64
	characters   []int64
	timecodes    []int64
	texts        map[int64]string
	fields       map[store.ProjectField]string
	blobs        []string
}

// NewLedger starts an empty ledger for a run.
func NewLedger(projectID int64, runID string) *Ledger {
	return &Ledger{
		ProjectID: projectID,
		RunID:     runID,
		texts:     make(map[int64]string),
		fields:    make(map[store.ProjectField]string),
	}
}

// Summary counts the changes a ledger holds.
type Summary struct {
	SceneChanges int
	Characters   int
	Timecodes    int
	Texts        int
	Fields       int
	Blobs        int
}

// Empty reports whether nothing needs undoing.
func (s Summary) Empty() bool {
	return s == Summary{}
}

// Summary returns the current counts.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Summary{
		SceneChanges: len(l.sceneChanges),
		Characters:   len(l.characters),
		Timecodes:    len(l.timecodes),
		Texts:        len(l.texts),
		Fields:       len(l.fields),
		Blobs:        len(l.blobs),
	}
}

// TrackBlob records a blob written by the run outside any transaction.
func (l *Ledger) TrackBlob(key string) {
	l.mu.Lock()
	l.blobs = append(l.blobs, key)
	l.mu.Unlock()
}

func (l *Ledger) merge(p *pending) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sceneChanges = append(l.sceneChanges, p.sceneChanges...)
	l.characters = append(l.characters, p.characters...)
	l.timecodes = append(l.timecodes, p.timecodes...)
	// the first saved value is the one from before the run
	for id, text := range p.texts {
		if _, ok := l.texts[id]; !ok {
			l.texts[id] = text
		}
	}
	for field, value := range p.fields {
		if _, ok := l.fields[field]; !ok {
			l.fields[field] = value
		}
	}
}

func (l *Ledger) snapshot() (sceneChanges, characters, timecodes []int64, texts map[int64]string, fields map[store.ProjectField]string, blobs []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	texts = make(map[int64]string, len(l.texts))
	for id, text := range l.texts {
		texts[id] = text
	}
	fields = make(map[store.ProjectField]string, len(l.fields))
	for field, value := range l.fields {
		fields[field] = value
	}
	return append([]int64(nil), l.sceneChanges...),
		append([]int64(nil), l.characters...),
		append([]int64(nil), l.timecodes...),
		texts, fields,
		append([]string(nil), l.blobs...)
}

func (l *Ledger) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sceneChanges = nil
	l.characters = nil
	l.timecodes = nil
	l.texts = make(map[int64]string)
	l.fields = make(map[store.ProjectField]string)
	l.blobs = nil
}

// OriginalField returns the value a field had before the run changed it.
func (l *Ledger) OriginalField(field store.ProjectField) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	value, ok := l.fields[field]
	return value, ok
}

type pending struct {
	sceneChanges []int64
	characters   []int64
	timecodes    []int64
	texts        map[int64]string
	fields       map[store.ProjectField]string
}

func newPending() *pending {
	return &pending{
		texts:  make(map[int64]string),
		fields: make(map[store.ProjectField]string),
	}
}
