package common

import "slices"

// SortKeys sorts keys in ascending order and drops duplicates.
// The resulting order is the acquisition order used everywhere in the module.
func SortKeys(keys []RecordKey) []RecordKey {
	out := slices.Clone(keys)
	slices.SortFunc(out, RecordKey.Compare)
	return slices.Compact(out)
}
