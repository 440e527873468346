package multiwoz

import (
	"fmt"
	"sort"
)

// BeliefState is an ordered slot-name to value mapping for one turn.
type BeliefState struct {
	Order  []string
	Values map[string]string
}

// NewBeliefState returns an empty belief state.
func NewBeliefState() *BeliefState {
	return &BeliefState{Values: map[string]string{}}
}

// Set adds or overwrites a slot value, keeping first-insertion order.
func (b *BeliefState) Set(slot, value string) {
	if _, ok := b.Values[slot]; !ok {
		b.Order = append(b.Order, slot)
	}
	b.Values[slot] = value
}

// Get returns the value for slot and whether it is present.
func (b *BeliefState) Get(slot string) (string, bool) {
	v, ok := b.Values[slot]
	return v, ok
}

// Len returns the number of tracked slots.
func (b *BeliefState) Len() int { return len(b.Order) }

// ExtractBeliefState reads the belief state out of a turn's metadata.
// TRADE data carries a list of single-slot states; the plain form nests
// book/semi tables per domain.
func ExtractBeliefState(metadata any, isTrade bool) (*BeliefState, error) {
	state := NewBeliefState()

	if isTrade {
		entries, _ := metadata.([]any)
		for _, entry := range entries {
			stateJSON, _ := entry.(map[string]any)
			slots, _ := stateJSON["slots"].([]any)
			if len(slots) != 1 {
				return nil, fmt.Errorf("state must carry exactly 1 slot, got %d: %v", len(slots), stateJSON["slots"])
			}
			pair, _ := slots[0].([]any)
			if len(pair) != 2 {
				return nil, fmt.Errorf("slot entry must be a [name, value] pair: %v", slots[0])
			}
			name, _ := pair[0].(string)
			value, _ := pair[1].(string)
			// Align with schema keys: "hotel-book people" is tracked as
			// "hotel-people".
			state.Set(replaceBook(name), value)
		}
		return state, nil
	}

	// Slots are walked in sorted domain and key order, not the order they
	// appear in the annotation JSON.
	byDomain, _ := metadata.(map[string]any)
	domains := make([]string, 0, len(byDomain))
	for domain := range byDomain {
		domains = append(domains, domain)
	}
	sort.Strings(domains)

	for _, domain := range domains {
		domainState, _ := byDomain[domain].(map[string]any)
		book, _ := domainState["book"].(map[string]any)
		semi, _ := domainState["semi"].(map[string]any)

		// "booked" is a booking confirmation, not a state slot.
		for _, key := range sortedKeys(book) {
			if key == "booked" {
				continue
			}
			if val := stringValue(book[key]); trackable(val) {
				state.Set(domain+"-"+key, val)
			}
		}
		for _, key := range sortedKeys(semi) {
			if val := stringValue(semi[key]); trackable(val) {
				state.Set(domain+"-"+key, val)
			}
		}
	}
	return state, nil
}

func replaceBook(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); {
		if i+5 <= len(name) && name[i:i+5] == "book " {
			i += 5
			continue
		}
		out = append(out, name[i])
		i++
	}
	return string(out)
}

func trackable(val string) bool {
	return val != "" && val != "not mentioned" && val != "none"
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
