package model

import "sort"

var defaultAdvances = map[CommitmentType][]int{
	CommitmentTask:    {0},
	CommitmentCall:    {0, 15},
	CommitmentEmail:   {0},
	CommitmentVideo:   {0, 10},
	CommitmentMeeting: {0, 15, 60},
	CommitmentTrip:    {0, 120, 1440},
}

// DefaultAdvances returns the advance offsets, in minutes, used for a
// commitment type when the caller supplies none. Unknown types fall back to
// the plain task set.
func DefaultAdvances(c CommitmentType) []int {
	src, ok := defaultAdvances[c]
	if !ok {
		src = defaultAdvances[CommitmentTask]
	}
	out := make([]int, len(src))
	copy(out, src)
	return out
}

// NormalizeAdvances drops negative offsets and duplicates and sorts the rest.
func NormalizeAdvances(advances []int) []int {
	seen := make(map[int]bool, len(advances))
	out := make([]int, 0, len(advances))
	for _, a := range advances {
		if a < 0 || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	sort.Ints(out)
	return out
}
