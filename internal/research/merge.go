package research

import "sort"

// StageOutput is the validated value one stage produced.
type StageOutput struct {
	Stage string         `json:"stage"`
	Value map[string]any `json:"value"`
}

// Merge unions stage outputs into a new report. Keys must be disjoint: a key
// produced twice fails with *MergeConflict and nothing is overwritten.
func Merge(outputs ...StageOutput) (map[string]any, error) {
	report := map[string]any{}
	owners := map[string]string{}
	for _, output := range outputs {
		keys := make([]string, 0, len(output.Value))
		for key := range output.Value {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if owner, ok := owners[key]; ok {
				return nil, &MergeConflict{Key: key, Stages: []string{owner, output.Stage}}
			}
			owners[key] = output.Stage
			report[key] = output.Value[key]
		}
	}
	return report, nil
}
