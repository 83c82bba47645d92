// SPDX-FileCopyrightText: 2025 Deutsche Telekom IT GmbH
//
// SPDX-License-Identifier: Apache-2.0

package session

import "sync"

// Table is the process-wide session registry, indexed both by session
// ID and by conn_id so handlers that only have one of the two can
// still resolve a Session. Cross-session operations (cleanup by
// parent_id) take the exclusive lock only long enough to clone the
// relevant handles, per the shared-resource policy every other
// internal package follows.
type Table struct {
	mu       sync.RWMutex
	byID     map[string]*Session
	byConnID map[string]*Session
}

// NewTable creates an empty session table.
func NewTable() *Table {
	return &Table{
		byID:     make(map[string]*Session),
		byConnID: make(map[string]*Session),
	}
}

// Add registers a session.
func (t *Table) Add(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[s.ID] = s
	t.byConnID[s.ConnID] = s
}

// Get looks up a session by its session_id.
func (t *Table) Get(id string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byID[id]
	return s, ok
}

// GetByConnID looks up a session by its conn_id, the identifier
// carried on every control/data-channel message.
func (t *Table) GetByConnID(connID string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byConnID[connID]
	return s, ok
}

// Remove deletes a session from both indexes.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byID[id]
	if !ok {
		return
	}
	delete(t.byID, id)
	delete(t.byConnID, s.ConnID)
}

// Descendants returns id plus every session transitively descended
// from it by ParentID, grandchildren and beyond included, not just
// direct children: the full set /api/cleanup/{client_id} tears down.
// Computed as a repeat-until-fixed-point closure over parent_id.
func (t *Table) Descendants(id string) []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.byID[id]; !ok {
		return nil
	}

	toRemove := map[string]bool{id: true}
	for changed := true; changed; {
		changed = false
		for sid, s := range t.byID {
			if toRemove[sid] {
				continue
			}
			if s.ParentID != "" && toRemove[s.ParentID] {
				toRemove[sid] = true
				changed = true
			}
		}
	}

	out := make([]*Session, 0, len(toRemove))
	for sid := range toRemove {
		out = append(out, t.byID[sid])
	}
	return out
}

// All returns every currently registered session, used by the
// dashboard snapshot.
func (t *Table) All() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.byID))
	for _, s := range t.byID {
		out = append(out, s)
	}
	return out
}

// Len reports the number of registered sessions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
