// Package playbook loads the company standards from a directory of
// <contract_type>.json|.yaml files.
package playbook

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bryanwahyu/contract-review/internal/domain/contracts"
)

var _ contracts.PlaybookSource = (*Dir)(nil)

// Dir is an immutable set of playbooks keyed by file name.
type Dir struct {
	playbooks map[string]*contracts.Playbook
}

// file is the on-disk shape. Rules is preferred; preferred_terms (clause type
// -> free-form standards) is accepted and turned into one rule per clause type.
type file struct {
	ContractType   string            `json:"contract_type" yaml:"contract_type"`
	Name           string            `json:"name" yaml:"name"`
	Rules          []contracts.Rule  `json:"rules" yaml:"rules"`
	PreferredTerms map[string]any    `json:"preferred_terms" yaml:"preferred_terms"`
	Remediation    map[string]string `json:"remediation" yaml:"remediation"`
}

// LoadDir reads every playbook in dir.
func LoadDir(dir string) (*Dir, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read playbook dir: %w", err)
	}
	d := &Dir{playbooks: make(map[string]*contracts.Playbook)}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".json" && ext != ".yaml" && ext != ".yml") {
			continue
		}
		key := contracts.NormalizeCategory(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		if _, dup := d.playbooks[key]; dup {
			return nil, fmt.Errorf("playbook %s defined twice", key)
		}
		pb, err := loadFile(filepath.Join(dir, e.Name()), key)
		if err != nil {
			return nil, err
		}
		d.playbooks[key] = pb
	}
	if len(d.playbooks) == 0 {
		return nil, fmt.Errorf("no playbooks found in %s", dir)
	}
	return d, nil
}

// New builds a Dir from in-memory playbooks, keyed by ContractType.
func New(playbooks ...*contracts.Playbook) *Dir {
	d := &Dir{playbooks: make(map[string]*contracts.Playbook)}
	for _, pb := range playbooks {
		d.playbooks[contracts.NormalizeCategory(pb.ContractType)] = pb
	}
	return d
}

func loadFile(path, key string) (*contracts.Playbook, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		err = json.Unmarshal(raw, &f)
	} else {
		err = yaml.Unmarshal(raw, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse playbook %s: %w", filepath.Base(path), err)
	}

	rules := f.Rules
	if len(rules) == 0 {
		rules = fromPreferredTerms(key, f.PreferredTerms, f.Remediation)
	}
	seen := make(map[string]bool, len(rules))
	for i := range rules {
		r := &rules[i]
		if r.Category == "" {
			return nil, fmt.Errorf("playbook %s: rule %d has no category", key, i+1)
		}
		if r.ID == "" {
			r.ID = fmt.Sprintf("%s-%d", strings.ToUpper(key), i+1)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("playbook %s: duplicate rule id %s", key, r.ID)
		}
		seen[r.ID] = true
	}

	ct := f.ContractType
	if ct == "" {
		ct = key
	}
	return &contracts.Playbook{ContractType: ct, Name: f.Name, Rules: rules}, nil
}

func fromPreferredTerms(key string, terms map[string]any, remediation map[string]string) []contracts.Rule {
	var rules []contracts.Rule
	for _, clauseType := range slices.Sorted(maps.Keys(terms)) {
		standard, err := json.Marshal(terms[clauseType])
		if err != nil {
			continue
		}
		category := contracts.NormalizeCategory(clauseType)
		rules = append(rules, contracts.Rule{
			ID:          strings.ToUpper(key + "-" + category),
			Category:    category,
			Condition:   "clause type " + category,
			Standard:    string(standard),
			Remediation: remediation[clauseType],
		})
	}
	return rules
}

// Keys returns the loaded playbook keys, sorted.
func (d *Dir) Keys() []string {
	return slices.Sorted(maps.Keys(d.playbooks))
}

func (d *Dir) Get(_ context.Context, key string) (*contracts.Playbook, error) {
	pb, ok := d.playbooks[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contracts.ErrPlaybookNotFound, key)
	}
	return pb, nil
}

// Classify maps a free-form contract type ("SaaS Agreement", "Mutual NDA",
// "Master Services Agreement") onto a loaded playbook key.
func (d *Dir) Classify(contractType string) (string, bool) {
	norm := contracts.NormalizeCategory(contractType)
	if norm == "" {
		return "", false
	}
	candidates := []string{norm, alias(norm), norm + "_agreement", strings.TrimSuffix(norm, "_agreement")}
	for _, c := range candidates {
		if _, ok := d.playbooks[c]; ok && c != "" {
			return c, true
		}
	}
	return "", false
}

func alias(norm string) string {
	tokens := strings.Split(norm, "_")
	switch {
	case strings.Contains(norm, "employment"):
		return "employment_agreement"
	case strings.Contains(norm, "saas") || strings.Contains(norm, "software_as_a_service"):
		return "saas_agreement"
	case slices.Contains(tokens, "nda") || strings.Contains(norm, "non_disclosure") || strings.Contains(norm, "nondisclosure"):
		return "nda"
	case slices.Contains(tokens, "msa") || strings.Contains(norm, "master_service"):
		return "msa"
	}
	return ""
}
