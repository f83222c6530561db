package rules

import "plexpush/internal/plex"

// Match is the outcome of SelectRule.
type Match struct {
	Rule Rule
	// Candidates counts every qualifying rule, including the selected one.
	// More than one means the configuration has overlapping rules.
	Candidates int
}

// Ambiguous reports whether more than one rule qualified.
func (m Match) Ambiguous() bool { return m.Candidates > 1 }

// Matches reports whether ev satisfies all three predicates of r: player,
// event type and media type must each be in the rule's set.
func (r Rule) Matches(ev plex.Event) bool {
	player := ev.PlayerName
	if player == "" {
		player = plex.UnknownPlayer
	}
	return r.Players.Contains(player) &&
		r.EventTypes.Contains(ev.EventType) &&
		r.MediaTypes.Contains(ev.MediaType)
}

// SelectRule returns the first qualifying rule in configuration order. ok is
// false when no rule qualifies. It has no side effects.
func SelectRule(ev plex.Event, store *Store) (m Match, ok bool) {
	if store == nil {
		return Match{}, false
	}
	for _, r := range store.rules {
		if !r.Matches(ev) {
			continue
		}
		if m.Candidates == 0 {
			m.Rule = r
		}
		m.Candidates++
	}
	return m, m.Candidates > 0
}
