package tournament

// Dump copies every tournament out for the snapshot writer.
func (e *Engine) Dump() []Tournament {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Tournament, 0, len(e.tournaments))
	for _, t := range e.tournaments {
		out = append(out, cloneLocked(t))
	}
	return out
}

// Restore rehydrates the in-memory map from a loaded snapshot.
func (e *Engine) Restore(ts []Tournament) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tournaments = make(map[string]*Tournament, len(ts))
	for i := range ts {
		t := ts[i]
		e.tournaments[t.ID] = &t
	}
}
