package bounce

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

// RuleFile is the YAML layout of an importable bounce rule set:
//
//	rules:
//	  - regex: "user unknown"
//	    action: deleteuserandbounce
//	    comment: hard bounce
type RuleFile struct {
	Rules []RuleEntry `yaml:"rules"`
}

type RuleEntry struct {
	Regex   string `yaml:"regex"`
	Action  string `yaml:"action"`
	Order   int    `yaml:"order"`
	Status  string `yaml:"status"`
	Comment string `yaml:"comment"`
}

func LoadRuleFile(path string, resolver *ActionResolver) ([]*model.BounceRegex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rules, err := ParseRules(data, resolver)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// ParseRules validates every pattern and action. Rules without an explicit
// order keep their position in the file.
func ParseRules(data []byte, resolver *ActionResolver) ([]*model.BounceRegex, error) {
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	rules := make([]*model.BounceRegex, 0, len(file.Rules))
	for i, entry := range file.Rules {
		if entry.Regex == "" {
			return nil, fmt.Errorf("rule %d: empty regex", i+1)
		}
		if _, err := CompileRule(entry.Regex); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		if _, err := resolver.Resolve(entry.Action); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		switch entry.Status {
		case "":
			entry.Status = model.BounceRuleActive
		case model.BounceRuleActive, model.BounceRuleCandidate:
		default:
			return nil, fmt.Errorf("rule %d: unknown status %q", i+1, entry.Status)
		}
		order := entry.Order
		if order == 0 {
			order = (i + 1) * 10
		}
		rules = append(rules, &model.BounceRegex{
			Regex:     entry.Regex,
			Action:    entry.Action,
			ListOrder: order,
			Status:    entry.Status,
			Comment:   entry.Comment,
		})
	}
	return rules, nil
}

// ImportRules upserts rules and returns how many were written.
func ImportRules(ctx context.Context, repo repository.BounceRegexRepositoryInterface, rules []*model.BounceRegex) (int, error) {
	for i, rule := range rules {
		if err := repo.Upsert(ctx, rule); err != nil {
			return i, fmt.Errorf("import rule %q: %w", rule.Regex, err)
		}
	}
	return len(rules), nil
}
