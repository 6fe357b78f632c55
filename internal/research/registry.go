package research

import (
	"fmt"

	"google.golang.org/genai"
)

const (
	StageBreakingNewsBasicInfo      = "breaking-news-basic-info"
	StagePolicyAnalysis             = "policy-analysis"
	StageSupportBase                = "support-base"
	StageInternationalCurrentStatus = "international-current-status"
	StageEvaluationSources          = "evaluation-sources"

	// ContractComplete names the merged report contract in SchemaError values.
	ContractComplete = "complete"
	ContractNews     = "news"
)

// StageContract describes one research stage. Sections are the top-level keys
// the stage produces; Requires lists keys from earlier stages its instruction
// reads.
type StageContract struct {
	Index    int
	ID       string
	Name     string
	Sections []string
	Requires []string
	Prompt   string
	Schema   *genai.Schema
}

type stageSpec struct {
	id       string
	name     string
	sections []string
	requires []string
}

var canonicalStages = []stageSpec{
	{
		id:       StageBreakingNewsBasicInfo,
		name:     "Breaking news and basic information",
		sections: []string{SectionBreakingNews, SectionBasicInformation},
	},
	{
		id:       StagePolicyAnalysis,
		name:     "Policy analysis",
		sections: []string{SectionPolicyAnalysis},
		requires: []string{SectionBasicInformation},
	},
	{
		id:       StageSupportBase,
		name:     "Support base analysis",
		sections: []string{SectionSupportBaseAnalysis},
		requires: []string{SectionBasicInformation},
	},
	{
		id:       StageInternationalCurrentStatus,
		name:     "International comparison and current status",
		sections: []string{SectionInternationalComparison, SectionCurrentStatus},
		requires: []string{SectionBasicInformation},
	},
	{
		id:       StageEvaluationSources,
		name:     "Evaluation and data sources",
		sections: []string{SectionMultifacetedEvaluation, SectionComprehensiveAssessment, SectionDataSources},
		requires: []string{SectionBasicInformation},
	},
}

type Registry struct {
	stages   []StageContract
	byID     map[string]int
	complete *genai.Schema
	news     *genai.Schema
}

// NewRegistry builds the canonical five-stage registry. It panics if two
// stages declare the same section, which can only happen through an edit to
// the stage table.
func NewRegistry() *Registry {
	registry := &Registry{
		byID: make(map[string]int, len(canonicalStages)),
		news: NewsSchema(),
	}
	owners := map[string]string{}
	var all []field
	for i, spec := range canonicalStages {
		fields := make([]field, 0, len(spec.sections))
		for _, section := range spec.sections {
			if owner, ok := owners[section]; ok {
				panic(fmt.Sprintf("section %s declared by both %s and %s", section, owner, spec.id))
			}
			owners[section] = spec.id
			fields = append(fields, req(section, sectionSchemas[section]()))
		}
		all = append(all, fields...)
		registry.stages = append(registry.stages, StageContract{
			Index:    i + 1,
			ID:       spec.id,
			Name:     spec.name,
			Sections: append([]string(nil), spec.sections...),
			Requires: append([]string(nil), spec.requires...),
			Prompt:   spec.id,
			Schema:   object(fields...),
		})
		registry.byID[spec.id] = i
	}
	registry.complete = object(all...)
	return registry
}

func (r *Registry) Stages() []StageContract {
	out := make([]StageContract, len(r.stages))
	copy(out, r.stages)
	return out
}

func (r *Registry) Stage(id string) (StageContract, error) {
	idx, ok := r.byID[id]
	if !ok {
		return StageContract{}, fmt.Errorf("unknown stage %q", id)
	}
	return r.stages[idx], nil
}

// InputSections returns the sections available to a stage: the output of
// every earlier stage.
func (r *Registry) InputSections(id string) ([]string, error) {
	idx, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("unknown stage %q", id)
	}
	var sections []string
	for _, stage := range r.stages[:idx] {
		sections = append(sections, stage.Sections...)
	}
	return sections, nil
}

func (r *Registry) CompleteSchema() *genai.Schema {
	return r.complete
}

// CompleteSections lists the report keys in stage order.
func (r *Registry) CompleteSections() []string {
	return append([]string(nil), r.complete.PropertyOrdering...)
}

func (r *Registry) NewsSchema() *genai.Schema {
	return r.news
}

// Schema resolves a contract id: a stage id, ContractComplete or ContractNews.
func (r *Registry) Schema(contract string) (*genai.Schema, error) {
	switch contract {
	case ContractComplete:
		return r.complete, nil
	case ContractNews:
		return r.news, nil
	}
	stage, err := r.Stage(contract)
	if err != nil {
		return nil, err
	}
	return stage.Schema, nil
}
