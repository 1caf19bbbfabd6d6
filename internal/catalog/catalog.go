// Package catalog loads the YAML plan and badge catalogs, falling back to the
// embedded defaults when no override path is configured.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	gamedomain "github.com/yungbote/questline-backend/internal/domain/gamification"
	subdomain "github.com/yungbote/questline-backend/internal/domain/subscription"
)

//go:embed plans.yaml
var defaultPlans []byte

//go:embed badges.yaml
var defaultBadges []byte

type planFile struct {
	Plans []subdomain.Plan `yaml:"plans"`
}

type badgeFile struct {
	Badges []gamedomain.Badge `yaml:"badges"`
}

func LoadPlans(path string) ([]subdomain.Plan, error) {
	raw, err := read(path, defaultPlans)
	if err != nil {
		return nil, err
	}
	var f planFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}
	seen := map[string]bool{}
	for _, p := range f.Plans {
		if p.ID == "" || p.PriceID == "" {
			return nil, fmt.Errorf("plan catalog: id and price_id required (%+v)", p)
		}
		if p.Tier == "" || p.Tier == subdomain.TierFree {
			return nil, fmt.Errorf("plan %s: paid tier required", p.ID)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("plan catalog: duplicate id %s", p.ID)
		}
		seen[p.ID] = true
	}
	return f.Plans, nil
}

func LoadBadges(path string) ([]gamedomain.Badge, error) {
	raw, err := read(path, defaultBadges)
	if err != nil {
		return nil, err
	}
	var f badgeFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse badge catalog: %w", err)
	}
	seen := map[string]bool{}
	for _, b := range f.Badges {
		if b.ID == "" {
			return nil, fmt.Errorf("badge catalog: id required")
		}
		switch b.Criteria.Type {
		case gamedomain.CriteriaQuestsCompleted, gamedomain.CriteriaLevel, gamedomain.CriteriaXP:
		default:
			return nil, fmt.Errorf("badge %s: unknown criteria %q", b.ID, b.Criteria.Type)
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("badge catalog: duplicate id %s", b.ID)
		}
		seen[b.ID] = true
	}
	return f.Badges, nil
}

// PriceTiers indexes the catalog by Stripe price id.
func PriceTiers(plans []subdomain.Plan) map[string]subdomain.Tier {
	out := make(map[string]subdomain.Tier, len(plans))
	for _, p := range plans {
		out[p.PriceID] = p.Tier
	}
	return out
}

func read(path string, fallback []byte) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return fallback, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return raw, nil
}
