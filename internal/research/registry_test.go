package research

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T, stageID string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", stageID+".json"))
	require.NoError(t, err)
	return data
}

func TestRegistryStagesAreDisjointAndCoverReport(t *testing.T) {
	registry := NewRegistry()
	stages := registry.Stages()
	require.Len(t, stages, 5)

	seen := map[string]string{}
	for i, stage := range stages {
		require.Equal(t, i+1, stage.Index)
		for _, section := range stage.Sections {
			owner, dup := seen[section]
			require.False(t, dup, "section %s declared by %s and %s", section, owner, stage.ID)
			seen[section] = stage.ID
		}
	}
	require.Len(t, seen, 9)
	require.Len(t, registry.CompleteSections(), 9)
	for _, section := range registry.CompleteSections() {
		require.Contains(t, seen, section)
	}
}

func TestRegistryInputSections(t *testing.T) {
	registry := NewRegistry()

	sections, err := registry.InputSections(StageBreakingNewsBasicInfo)
	require.NoError(t, err)
	require.Empty(t, sections)

	sections, err = registry.InputSections(StageSupportBase)
	require.NoError(t, err)
	require.Equal(t, []string{SectionBreakingNews, SectionBasicInformation, SectionPolicyAnalysis}, sections)

	_, err = registry.InputSections("nope")
	require.Error(t, err)
}

func TestRegistryStageRequiresOnlyEarlierSections(t *testing.T) {
	registry := NewRegistry()
	for _, stage := range registry.Stages() {
		available, err := registry.InputSections(stage.ID)
		require.NoError(t, err)
		for _, required := range stage.Requires {
			require.Contains(t, available, required, "stage %s", stage.ID)
		}
	}
}

func TestValidateAcceptsFixtures(t *testing.T) {
	registry := NewRegistry()
	for _, stage := range registry.Stages() {
		value, err := registry.Validate(stage.ID, loadFixture(t, stage.ID))
		require.NoError(t, err, stage.ID)
		require.Len(t, value, len(stage.Sections))
	}
}

func TestValidateErrors(t *testing.T) {
	registry := NewRegistry()
	tests := []struct {
		name   string
		stage  string
		raw    string
		path   string
		reason string
	}{
		{
			name:   "malformed",
			stage:  StagePolicyAnalysis,
			raw:    `{"policyAnalysis":`,
			reason: "malformed JSON",
		},
		{
			name:   "trailing data",
			stage:  StagePolicyAnalysis,
			raw:    `{} {}`,
			reason: "malformed JSON: trailing data after value",
		},
		{
			name:   "not an object",
			stage:  StagePolicyAnalysis,
			raw:    `[1,2]`,
			reason: "wrong type: want object, got array",
		},
		{
			name:   "missing section",
			stage:  StageInternationalCurrentStatus,
			raw:    `{"internationalComparison":{"similarParties":[],"internationalReputation":"","foreignMediaCoverage":[]}}`,
			path:   "currentStatus",
			reason: "missing required field",
		},
		{
			name:   "null required",
			stage:  StageEvaluationSources,
			raw:    replaceOnce(t, StageEvaluationSources, `"overallFindings": "成長途上の政党"`, `"overallFindings": null`),
			path:   "comprehensiveAssessment.overallFindings",
			reason: "missing required field",
		},
		{
			name:   "wrong type",
			stage:  StageBreakingNewsBasicInfo,
			raw:    replaceOnce(t, StageBreakingNewsBasicInfo, `"seatsWon": 3`, `"seatsWon": "3"`),
			path:   "breakingNewsSection.latestElectionResults.seatsWon",
			reason: "wrong type: want number, got string",
		},
		{
			name:   "enum",
			stage:  StageEvaluationSources,
			raw:    replaceOnce(t, StageEvaluationSources, `"impact": "high"`, `"impact": "huge"`),
			path:   "comprehensiveAssessment.achievements[0].impact",
			reason: "value not in enumeration [high, medium, low]",
		},
		{
			name:   "feasibility above range",
			stage:  StagePolicyAnalysis,
			raw:    replaceOnce(t, StagePolicyAnalysis, `"feasibilityScore": 4`, `"feasibilityScore": 7`),
			path:   "policyAnalysis.priorityPolicies[0].feasibilityScore",
			reason: "out of range [0,5]",
		},
		{
			name:   "negative count",
			stage:  StageInternationalCurrentStatus,
			raw:    replaceOnce(t, StageInternationalCurrentStatus, `"television": 12`, `"television": -1`),
			path:   "currentStatus.mediaExposure.television",
			reason: "out of range: minimum 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.Validate(tt.stage, []byte(tt.raw))
			var schemaErr *SchemaError
			require.True(t, errors.As(err, &schemaErr), "expected SchemaError, got %v", err)
			require.Equal(t, tt.stage, schemaErr.Stage)
			require.Equal(t, tt.path, schemaErr.Path)
			require.True(t, strings.HasPrefix(schemaErr.Reason, tt.reason), "reason %q", schemaErr.Reason)
		})
	}
}

func TestValidateFeasibilityZeroMeansNoData(t *testing.T) {
	registry := NewRegistry()
	value, err := registry.Validate(StagePolicyAnalysis, loadFixture(t, StagePolicyAnalysis))
	require.NoError(t, err)
	policies := value[SectionPolicyAnalysis].(map[string]any)["priorityPolicies"].([]any)
	require.Equal(t, 0.0, policies[1].(map[string]any)["feasibilityScore"])
}

func TestValidateStripsUndeclaredFields(t *testing.T) {
	registry := NewRegistry()
	raw := strings.Replace(string(loadFixture(t, StageSupportBase)), `"supportBaseAnalysis": {`, `"commentary": "extra", "supportBaseAnalysis": {"confidence": 0.9,`, 1)

	value, err := registry.Validate(StageSupportBase, []byte(raw))
	require.NoError(t, err)
	require.NotContains(t, value, "commentary")
	require.NotContains(t, value[SectionSupportBaseAnalysis], "confidence")
}

func TestValidateOptionalFieldsMayBeOmitted(t *testing.T) {
	registry := NewRegistry()
	value, err := registry.Validate(StageEvaluationSources, loadFixture(t, StageEvaluationSources))
	require.NoError(t, err)
	perspective := value[SectionMultifacetedEvaluation].(map[string]any)["supportivePerspectives"].([]any)[0].(map[string]any)
	require.NotContains(t, perspective, "criticism")
	require.Equal(t, "政策が具体的", perspective["evaluationContent"])
}

func TestValidateToleratesCodeFence(t *testing.T) {
	registry := NewRegistry()
	raw := "```json\n" + string(loadFixture(t, StageSupportBase)) + "\n```"
	_, err := registry.Validate(StageSupportBase, []byte(raw))
	require.NoError(t, err)
}

func TestValidateUnknownContract(t *testing.T) {
	_, err := NewRegistry().Validate("stage-9", []byte(`{}`))
	require.ErrorContains(t, err, "unknown stage")
}

func TestValidateValueAcceptsTypedValues(t *testing.T) {
	type outlook struct {
		ShortTerm  string `json:"shortTerm"`
		MediumTerm string `json:"mediumTerm"`
		LongTerm   string `json:"longTerm"`
	}
	registry := NewRegistry()
	value, err := registry.Validate(StageEvaluationSources, loadFixture(t, StageEvaluationSources))
	require.NoError(t, err)
	assessment := value[SectionComprehensiveAssessment].(map[string]any)
	assessment["futureOutlook"] = outlook{ShortTerm: "a", MediumTerm: "b", LongTerm: "c"}

	checked, err := registry.ValidateValue(StageEvaluationSources, value)
	require.NoError(t, err)
	futureOutlook := checked[SectionComprehensiveAssessment].(map[string]any)["futureOutlook"].(map[string]any)
	require.Equal(t, "b", futureOutlook["mediumTerm"])
}

func TestValidateCompleteRejectsUndeclaredKey(t *testing.T) {
	err := NewRegistry().ValidateComplete(map[string]any{"extra": true})
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	require.Equal(t, ContractComplete, schemaErr.Stage)
	require.Equal(t, "extra", schemaErr.Path)
}

func TestValidateCompleteRejectsMissingSection(t *testing.T) {
	registry := NewRegistry()
	value, err := registry.Validate(StageBreakingNewsBasicInfo, loadFixture(t, StageBreakingNewsBasicInfo))
	require.NoError(t, err)

	err = registry.ValidateComplete(value)
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	require.Equal(t, SectionPolicyAnalysis, schemaErr.Path)
	require.Equal(t, "missing required field", schemaErr.Reason)
}

func TestMerge(t *testing.T) {
	report, err := Merge(
		StageOutput{Stage: "a", Value: map[string]any{"x": 1, "y": 2}},
		StageOutput{Stage: "b", Value: map[string]any{"z": 3}},
	)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"x": 1, "y": 2, "z": 3}, report)

	_, err = Merge(
		StageOutput{Stage: "a", Value: map[string]any{"x": 1}},
		StageOutput{Stage: "b", Value: map[string]any{"x": 2}},
	)
	var conflict *MergeConflict
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, "x", conflict.Key)
	require.Equal(t, []string{"a", "b"}, conflict.Stages)
	require.Equal(t, "merge conflict: key x produced by stages a, b", conflict.Error())
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	first := map[string]any{"x": 1}
	_, err := Merge(StageOutput{Stage: "a", Value: first}, StageOutput{Stage: "b", Value: map[string]any{"y": 2}})
	require.NoError(t, err)
	require.Len(t, first, 1)
}

func TestDecodeNews(t *testing.T) {
	registry := NewRegistry()
	items, err := registry.DecodeNews([]byte(`{"items":[{"title":"t","summary":"s","url":"https://example.jp","extra":1}]}`))
	require.NoError(t, err)
	require.Equal(t, []NewsItem{{Title: "t", Summary: "s", URL: "https://example.jp"}}, items)

	_, err = registry.DecodeNews([]byte(`{"items":[{"title":"t"}]}`))
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	require.Equal(t, "items[0].summary", schemaErr.Path)
}

func TestPartyName(t *testing.T) {
	require.Equal(t, "fallback", PartyName(nil, "fallback"))
	require.Equal(t, "fallback", PartyName(map[string]any{SectionBasicInformation: map[string]any{"partyName": " "}}, "fallback"))
	require.Equal(t, "サンプル党", PartyName(map[string]any{SectionBasicInformation: map[string]any{"partyName": "サンプル党"}}, "fallback"))
}

func TestErrorMessages(t *testing.T) {
	require.Equal(t, "stage s: a.b: missing required field", (&SchemaError{Stage: "s", Path: "a.b", Reason: "missing required field"}).Error())
	require.Equal(t, "stage s: malformed JSON", (&SchemaError{Stage: "s", Reason: "malformed JSON"}).Error())

	cause := errors.New("503 Service Unavailable")
	backendErr := newBackendError("s", false, cause)
	require.Equal(t, "stage s: backend call failed: 503 Service Unavailable", backendErr.Error())
	require.True(t, errors.Is(backendErr, cause))
	require.Contains(t, newBackendError("s", true, cause).Error(), "timed out")
}

func replaceOnce(t *testing.T, stageID string, old string, replacement string) string {
	t.Helper()
	raw := string(loadFixture(t, stageID))
	require.Contains(t, raw, old)
	return strings.Replace(raw, old, replacement, 1)
}
