package research

import (
	"encoding/json"
	"fmt"
	"strings"
)

type NewsItem struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	URL     string `json:"url"`
}

// PartyName returns basicInformation.partyName from an accumulated report,
// or fallback when stage 1 has not produced it.
func PartyName(report map[string]any, fallback string) string {
	basic, ok := report[SectionBasicInformation].(map[string]any)
	if !ok {
		return fallback
	}
	name, ok := basic["partyName"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return fallback
	}
	return strings.TrimSpace(name)
}

// EncodeReport renders a report as JSON. Map keys are sorted, so equal reports
// encode to identical bytes.
func EncodeReport(report map[string]any) ([]byte, error) {
	return json.Marshal(report)
}

// DecodeNews validates a raw news response and returns its items.
func (r *Registry) DecodeNews(raw []byte) ([]NewsItem, error) {
	value, err := r.Validate(ContractNews, raw)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(value["items"])
	if err != nil {
		return nil, err
	}
	var items []NewsItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode news items: %w", err)
	}
	return items, nil
}
