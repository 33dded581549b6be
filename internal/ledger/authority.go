package ledger

// authorityEvent is a scheduled change to the validator set, taking effect
// at EffectiveHeight (§4.2's AUTHORITY_LATENCY). Replacement supersedes the
// whole set; Removal removes a single validator (e.g. a double-sign slash).
type authorityEvent struct {
	EffectiveHeight int64
	Replacement     []string // nil unless this is a full-set replacement
	Remove          string   // "" unless this is a single removal
}

// AuthoritySet tracks the PoA validator set with latency-delayed mutation
// (§4.2): changes included in a block at height h take effect at
// h+AUTHORITY_LATENCY, so an in-flight signing contest cannot be won by
// the same block that changes the signer list.
type AuthoritySet struct {
	genesis []string
	events  []authorityEvent // kept sorted by EffectiveHeight
}

// NewAuthoritySet seeds the set with the genesis validator list.
func NewAuthoritySet(genesis []string) *AuthoritySet {
	cp := make([]string, len(genesis))
	copy(cp, genesis)
	return &AuthoritySet{genesis: cp}
}

// ScheduleReplacement queues a full validator-set replacement.
func (a *AuthoritySet) ScheduleReplacement(validators []string, effectiveHeight int64) {
	cp := make([]string, len(validators))
	copy(cp, validators)
	a.insert(authorityEvent{EffectiveHeight: effectiveHeight, Replacement: cp})
}

// ScheduleRemoval queues removal of a single validator (double-sign slash).
func (a *AuthoritySet) ScheduleRemoval(validator string, effectiveHeight int64) {
	a.insert(authorityEvent{EffectiveHeight: effectiveHeight, Remove: validator})
}

func (a *AuthoritySet) insert(ev authorityEvent) {
	i := len(a.events)
	for i > 0 && a.events[i-1].EffectiveHeight > ev.EffectiveHeight {
		i--
	}
	a.events = append(a.events, authorityEvent{})
	copy(a.events[i+1:], a.events[i:])
	a.events[i] = ev
}

// At folds genesis + all events with EffectiveHeight <= height, in order.
func (a *AuthoritySet) At(height int64) []string {
	set := make(map[string]bool, len(a.genesis))
	order := make([]string, 0, len(a.genesis))
	for _, v := range a.genesis {
		if !set[v] {
			set[v] = true
			order = append(order, v)
		}
	}
	for _, ev := range a.events {
		if ev.EffectiveHeight > height {
			break
		}
		if ev.Replacement != nil {
			set = make(map[string]bool, len(ev.Replacement))
			order = order[:0]
			for _, v := range ev.Replacement {
				if !set[v] {
					set[v] = true
					order = append(order, v)
				}
			}
		}
		if ev.Remove != "" {
			if set[ev.Remove] {
				delete(set, ev.Remove)
				filtered := order[:0]
				for _, v := range order {
					if v != ev.Remove {
						filtered = append(filtered, v)
					}
				}
				order = filtered
			}
		}
	}
	return order
}

// IsValidatorAt reports whether pubkey is an authorised signer at height.
func (a *AuthoritySet) IsValidatorAt(pubkey string, height int64) bool {
	for _, v := range a.At(height) {
		if v == pubkey {
			return true
		}
	}
	return false
}

// Clone deep-copies the authority set for use in a sandboxed State.Clone.
func (a *AuthoritySet) Clone() *AuthoritySet {
	cp := &AuthoritySet{
		genesis: append([]string(nil), a.genesis...),
		events:  append([]authorityEvent(nil), a.events...),
	}
	return cp
}
