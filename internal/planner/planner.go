// Package planner turns free-form task descriptions into validated run
// plans and creates the records the pipeline executes.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"loom/internal/audit"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/services/llm"
)

const (
	taskTypeImageClassification = "image_classification"
	frameworkPyTorch            = "pytorch"
	datasetSourceKaggle         = "kaggle"

	defaultModel       = "resnet18"
	defaultTargetValue = 0.9
	defaultMaxSizeGB   = 50.0
	maxSearchKeywords  = 4
)

var allowedModels = map[string]struct{}{
	"resnet18":     {},
	"resnet50":     {},
	"efficientnet": {},
}

// Completer is the LLM surface the planner needs.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Planner builds run plans and inserts records awaiting dataset
// acquisition.
type Planner struct {
	store    *queue.Store
	llm      Completer
	recorder *audit.Recorder
	logger   *slog.Logger
}

// New wires a planner. A nil completer selects the keyword heuristic,
// used when no LLM is configured.
func New(store *queue.Store, completer Completer, recorder *audit.Recorder, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Planner{store: store, llm: completer, recorder: recorder, logger: logger}
}

// Submit turns an intent into a plan and creates the run record in the
// pending_dataset phase. An explicit name overrides the plan's generated
// one.
func (p *Planner) Submit(ctx context.Context, intent, name, owner string) (*queue.Record, error) {
	intent = strings.TrimSpace(intent)
	if intent == "" {
		return nil, services.Wrap(services.ErrValidation, "planner", "submit", "run intent is required", nil)
	}
	if owner = strings.TrimSpace(owner); owner == "" {
		owner = "local"
	}

	plan, err := p.buildPlan(ctx, intent)
	if err != nil {
		return nil, err
	}
	if name = strings.TrimSpace(name); name != "" {
		plan.Name = name
	}

	record, err := p.store.NewRecord(ctx, plan.Name, owner, intent)
	if err != nil {
		return nil, fmt.Errorf("planner: create record: %w", err)
	}
	if err := record.SetPlan(*plan); err != nil {
		return nil, fmt.Errorf("planner: encode plan: %w", err)
	}
	if err := p.store.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("planner: persist plan: %w", err)
	}

	p.logger.Info("run submitted",
		logging.Int64(logging.FieldRecordID, record.ID),
		logging.String("name", plan.Name),
		logging.String("keywords", strings.Join(plan.SearchKeywords, ", ")),
		logging.String("model", plan.PreferredModel),
	)
	p.recorder.Info(ctx, record.ID, "planner", fmt.Sprintf("run created: %s", plan.Name))
	return record, nil
}

func (p *Planner) buildPlan(ctx context.Context, intent string) (*queue.Plan, error) {
	var plan queue.Plan
	if p.llm == nil {
		plan = heuristicPlan(intent)
	} else {
		payload, err := p.llm.CompleteJSON(ctx, planSystemPrompt, intent)
		if err != nil {
			return nil, services.Wrap(services.ErrExternalTool, "planner", "complete", "plan generation failed", err)
		}
		if err := llm.DecodeJSON(payload, &plan); err != nil {
			return nil, services.Wrap(services.ErrValidation, "planner", "parse", "model returned an unusable plan", err)
		}
	}
	if err := normalizePlan(&plan, intent); err != nil {
		return nil, err
	}
	return &plan, nil
}

// heuristicPlan derives keywords straight from the intent. Defaults for
// the remaining fields are filled by normalizePlan.
func heuristicPlan(intent string) queue.Plan {
	return queue.Plan{
		Name:           deriveName(intent),
		SearchKeywords: intentKeywords(intent),
	}
}

// normalizePlan clamps the plan onto the single combination the pipeline
// supports: image classification on pytorch from the kaggle catalog, one
// of the three known architectures, accuracy as the target metric.
func normalizePlan(plan *queue.Plan, intent string) error {
	plan.Name = strings.TrimSpace(plan.Name)
	if plan.Name == "" {
		plan.Name = deriveName(intent)
	}
	plan.TaskType = taskTypeImageClassification
	plan.Framework = frameworkPyTorch
	plan.DatasetSource = datasetSourceKaggle

	keywords := make([]string, 0, len(plan.SearchKeywords))
	for _, keyword := range plan.SearchKeywords {
		if keyword = strings.TrimSpace(keyword); keyword != "" {
			keywords = append(keywords, keyword)
		}
	}
	if len(keywords) == 0 {
		keywords = intentKeywords(intent)
	}
	if len(keywords) == 0 {
		return services.Wrap(services.ErrValidation, "planner", "validate", "plan has no search keywords", nil)
	}
	if len(keywords) > maxSearchKeywords {
		keywords = keywords[:maxSearchKeywords]
	}
	plan.SearchKeywords = keywords

	model := strings.ToLower(strings.TrimSpace(plan.PreferredModel))
	if _, ok := allowedModels[model]; !ok {
		model = defaultModel
	}
	plan.PreferredModel = model

	if strings.TrimSpace(plan.TargetMetric) == "" {
		plan.TargetMetric = "accuracy"
	}
	if plan.TargetValue <= 0 || plan.TargetValue > 1 {
		plan.TargetValue = defaultTargetValue
	}
	if plan.MaxDatasetSizeGB <= 0 {
		plan.MaxDatasetSizeGB = defaultMaxSizeGB
	}
	return nil
}

// intentKeywords extracts up to four distinct lowercase topic words from
// the intent, dropping filler and anything numeric (size limits and epoch
// counts are not search terms).
func intentKeywords(intent string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(intent), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]struct{}, len(tokens))
	keywords := make([]string, 0, maxSearchKeywords)
	for _, token := range tokens {
		if _, stop := intentStopwords[token]; stop {
			continue
		}
		if strings.ContainsAny(token, "0123456789") {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		keywords = append(keywords, token)
		if len(keywords) == maxSearchKeywords {
			break
		}
	}
	return keywords
}

func deriveName(intent string) string {
	keywords := intentKeywords(intent)
	if len(keywords) == 0 {
		return "Training Run"
	}
	caser := cases.Title(language.English)
	return caser.String(strings.Join(keywords, " ")) + " Classifier"
}

var intentStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "to": {}, "of": {}, "for": {}, "and": {},
	"with": {}, "on": {}, "in": {}, "that": {}, "than": {}, "under": {},
	"over": {}, "about": {}, "is": {}, "it": {}, "i": {}, "me": {}, "my": {},
	"we": {}, "please": {}, "want": {}, "need": {}, "like": {},
	"train": {}, "training": {}, "create": {}, "build": {}, "make": {},
	"model": {}, "classify": {}, "classifier": {}, "classifiers": {},
	"classification": {}, "recognize": {}, "recognition": {},
	"dataset": {}, "datasets": {}, "data": {}, "using": {}, "use": {},
	"images": {}, "image": {}, "photos": {}, "pictures": {},
	"not": {}, "no": {}, "more": {}, "less": {}, "max": {}, "maximum": {},
	"size": {}, "limit": {}, "gb": {}, "mb": {},
}
