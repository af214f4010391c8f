package compiler

import (
	"fmt"
	"sync"
)

// LabelID indexes the program's label table. The zero value means "no label".
type LabelID int32

func (id LabelID) IsValid() bool { return id > 0 }

type LabelKind uint8

const (
	LabelCode LabelKind = iota
	LabelFunc
	LabelGlobal
	LabelData
)

type labelEntry struct {
	name string
	kind LabelKind
}

// LabelTable owns every symbolic name referenced by instructions. Label
// creation is safe for concurrent use.
type LabelTable struct {
	mu      sync.RWMutex
	entries []labelEntry
	byName  map[string]LabelID
}

func NewLabelTable() *LabelTable {
	return &LabelTable{
		entries: []labelEntry{{}},
		byName:  make(map[string]LabelID),
	}
}

// New registers a label. A name already in use gets a numeric suffix.
func (lt *LabelTable) New(name string, kind LabelKind) LabelID {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	unique := name
	for i := 2; ; i++ {
		if _, taken := lt.byName[unique]; !taken {
			break
		}
		unique = fmt.Sprintf("%s_%d", name, i)
	}
	id := LabelID(len(lt.entries))
	lt.entries = append(lt.entries, labelEntry{name: unique, kind: kind})
	lt.byName[unique] = id
	return id
}

func (lt *LabelTable) entry(id LabelID) labelEntry {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	if int(id) <= 0 || int(id) >= len(lt.entries) {
		internalError("label %d out of range", id)
	}
	return lt.entries[id]
}

func (lt *LabelTable) Name(id LabelID) string { return lt.entry(id).name }

func (lt *LabelTable) Kind(id LabelID) LabelKind { return lt.entry(id).kind }

func (lt *LabelTable) Lookup(name string) (LabelID, bool) {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	id, ok := lt.byName[name]
	return id, ok
}

func (lt *LabelTable) Len() int {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	return len(lt.entries) - 1
}
