package wager

// Dump copies all bets and matches out for the snapshot writer.
func (s *Service) Dump() ([]Bet, []Match) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bets := make([]Bet, 0, len(s.bets))
	for _, b := range s.bets {
		bets = append(bets, *b)
	}
	matches := make([]Match, 0, len(s.matches))
	for _, m := range s.matches {
		matches = append(matches, *m)
	}
	return bets, matches
}

// Restore rehydrates the in-memory maps from a loaded snapshot.
func (s *Service) Restore(bets []Bet, matches []Match) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bets = make(map[string]*Bet, len(bets))
	for i := range bets {
		b := bets[i]
		s.bets[b.ID] = &b
	}
	s.matches = make(map[string]*Match, len(matches))
	for i := range matches {
		m := matches[i]
		s.matches[m.ID] = &m
	}
}
