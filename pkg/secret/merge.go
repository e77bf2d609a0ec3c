package secret

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// MergeResult holds the merged records keyed by target name, and one error
// per target whose contributions could not be merged.
type MergeResult struct {
	Records map[string]*Record
	Errors  []error
}

// Sorted returns the merged records ordered by target name.
func (m MergeResult) Sorted() []*Record {
	out := make([]*Record, 0, len(m.Records))
	for _, name := range slices.Sorted(maps.Keys(m.Records)) {
		out = append(out, m.Records[name])
	}
	return out
}

// Merge folds records that share a target name into one record. The first
// record seen for a name is the accumulator. A conflicting contribution
// drops that target from the result and records a *MergeError; other
// targets are unaffected. Inputs are not modified.
func Merge(records []*Record) MergeResult {
	merged := make(map[string]*Record)
	failed := make(map[string]bool)
	var errs []error

	for _, r := range records {
		if r == nil || failed[r.Name] {
			continue
		}
		acc, ok := merged[r.Name]
		if !ok {
			merged[r.Name] = r.Clone()
			continue
		}
		next, err := mergeRecords(acc, r)
		if err != nil {
			errs = append(errs, err)
			failed[r.Name] = true
			delete(merged, r.Name)
			continue
		}
		merged[r.Name] = next
	}

	return MergeResult{Records: merged, Errors: errs}
}

func mergeRecords(acc, r *Record) (*Record, error) {
	source := strings.Join(r.Sources, ",")

	if acc.Name != r.Name {
		return nil, &MergeError{Target: acc.Name, Source: source, Field: "name",
			Detail: fmt.Sprintf("%s != %s", acc.Name, r.Name)}
	}
	if !acc.Namespaces.Equal(r.Namespaces) {
		return nil, &MergeError{Target: acc.Name, Source: source, Field: "namespaces",
			Detail: fmt.Sprintf("%s != %s", acc.Namespaces, r.Namespaces)}
	}
	var dup []string
	for k := range r.Data {
		if _, ok := acc.Data[k]; ok {
			dup = append(dup, k)
		}
	}
	if len(dup) > 0 {
		slices.Sort(dup)
		return nil, &MergeError{Target: acc.Name, Source: source, Field: "data keys",
			Detail: strings.Join(dup, ", ")}
	}

	// Provenance annotations belong to exactly one contributing entry.
	var shared []string
	for k := range r.Annotations {
		if _, ok := acc.Annotations[k]; ok {
			shared = append(shared, k)
		}
	}
	if len(shared) > 0 {
		slices.Sort(shared)
		return nil, &MergeError{Target: acc.Name, Source: source, Field: "annotations",
			Detail: strings.Join(shared, ", ")}
	}

	out := acc.Clone()
	maps.Copy(out.Data, r.Data)
	maps.Copy(out.Annotations, r.Annotations)
	out.Sources = append(out.Sources, r.Sources...)
	return out, nil
}
