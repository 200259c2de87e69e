package queue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Plan captures the planner's normalized output for a run. Named fields cover
// everything the pipeline acts on; Extra carries planner hints that are stored
// and surfaced but never interpreted.
type Plan struct {
	Name             string            `json:"name"`
	TaskType         string            `json:"task_type"`
	Framework        string            `json:"framework"`
	DatasetSource    string            `json:"dataset_source"`
	SearchKeywords   []string          `json:"search_keywords"`
	PreferredModel   string            `json:"preferred_model"`
	TargetMetric     string            `json:"target_metric"`
	TargetValue      float64           `json:"target_value"`
	MaxDatasetSizeGB float64           `json:"max_dataset_size_gb"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// Encode serializes the plan for storage on a record.
func (p Plan) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode plan: %w", err)
	}
	return string(data), nil
}

// DecodePlan parses a stored plan. An empty payload is an error; stages that
// need the plan cannot proceed without one.
func DecodePlan(data string) (*Plan, error) {
	if strings.TrimSpace(data) == "" {
		return nil, fmt.Errorf("decode plan: record has no stored plan")
	}
	var plan Plan
	if err := json.Unmarshal([]byte(data), &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &plan, nil
}

// Plan decodes the plan stored on the record.
func (r *Record) Plan() (*Plan, error) {
	return DecodePlan(r.PlanJSON)
}

// SetPlan serializes plan onto the record. Callers persist via Store.Update.
func (r *Record) SetPlan(plan Plan) error {
	encoded, err := plan.Encode()
	if err != nil {
		return err
	}
	r.PlanJSON = encoded
	return nil
}

// KeywordQuery joins the search keywords into a single catalog query string.
func (p Plan) KeywordQuery() string {
	parts := make([]string, 0, len(p.SearchKeywords))
	for _, keyword := range p.SearchKeywords {
		if trimmed := strings.TrimSpace(keyword); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}
