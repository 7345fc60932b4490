package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// RiskLevel is the severity assigned to text.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders levels; unknown levels rank below none.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskNone:
		return 0
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return -1
}

// Blocks reports whether text at this level must not be answered.
func (l RiskLevel) Blocks() bool {
	return l.Rank() >= RiskHigh.Rank()
}

// ParseRiskLevel parses a level name.
func ParseRiskLevel(s string) (RiskLevel, error) {
	l := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if l.Rank() < 0 {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return l, nil
}

// Domain says which kind of professional help an override points to.
type Domain string

const (
	DomainMedical      Domain = "medical"
	DomainMentalHealth Domain = "mental_health"
	DomainGeneral      Domain = "general"
)

// Group is an ordered set of patterns sharing one risk floor. When a group
// matches, the groups named in Suppresses are ignored for that text.
type Group struct {
	Name       string
	Domain     Domain
	Level      RiskLevel
	Patterns   []*regexp.Regexp
	Suppresses []string
}

// RuleSet is a versioned, ordered list of rule groups plus the fixed
// override texts. It is immutable after construction.
type RuleSet struct {
	Version   string
	Groups    []Group
	Overrides map[RiskLevel]map[Domain]string
}

// Override returns the fixed response for a blocking level and domain,
// falling back to the general text for the level and then the built-in text.
func (rs *RuleSet) Override(level RiskLevel, domain Domain) string {
	if byDomain, ok := rs.Overrides[level]; ok {
		if text := byDomain[domain]; text != "" {
			return text
		}
		if text := byDomain[DomainGeneral]; text != "" {
			return text
		}
	}
	return builtinOverride(level, domain)
}

func builtinOverride(level RiskLevel, domain Domain) string {
	switch {
	case level == RiskCritical && domain == DomainMentalHealth:
		return CrisisResponse
	case level == RiskCritical:
		return EmergencyResponse
	case domain == DomainMentalHealth:
		return MentalHealthConsultResponse
	default:
		return MedicalConsultResponse
	}
}

// Fixed override texts. These are never produced or edited by a model.
const (
	CrisisResponse = "It sounds like you are going through something really painful, and you deserve support right now. " +
		"If you are in immediate danger, call your local emergency number (911 in the US). " +
		"You can call or text 988 to reach the Suicide & Crisis Lifeline (US), text HOME to 741741 for the Crisis Text Line, " +
		"or find a local helpline at findahelpline.com. Please reach out to someone you trust as well. " +
		"Your coach cares about you, and this is something a trained counselor can help with right away."

	EmergencyResponse = "This sounds like it could be a medical emergency. Please stop training and seek care now: " +
		"call your local emergency number (911 in the US) or go to the nearest emergency room. " +
		"Do not try to train through it. Your coach can help you plan a return to play once a medical professional has assessed you."

	MedicalConsultResponse = "This is something a medical professional should look at before you keep training. " +
		"Please talk to a doctor, physiotherapist or athletic trainer about it. " +
		"Once you have been assessed and cleared, your coach can help you with a safe return-to-play plan."

	MentalHealthConsultResponse = "Thank you for sharing this. It is worth talking it through with a qualified professional, " +
		"such as a counselor, psychologist or your doctor, who can give you proper support. " +
		"If things ever feel overwhelming or unsafe, call or text 988 (US) or your local emergency number."
)

// DefaultVersion identifies the compiled-in rule set.
const DefaultVersion = "default"

// DefaultRuleSet returns the compiled-in rule set.
func DefaultRuleSet() *RuleSet {
	rs, err := build(DefaultVersion, defaultGroups, nil)
	if err != nil {
		panic(err)
	}
	return rs
}

type groupSpec struct {
	Name       string   `yaml:"name"`
	Domain     string   `yaml:"domain"`
	Level      string   `yaml:"level"`
	Patterns   []string `yaml:"patterns"`
	Suppresses []string `yaml:"suppresses,omitempty"`
}

// build compiles specs and checks the structural rules: unique names, valid
// levels and domains, and suppression only of existing non-critical groups.
func build(version string, specs []groupSpec, overrides map[RiskLevel]map[Domain]string) (*RuleSet, error) {
	if strings.TrimSpace(version) == "" {
		return nil, fmt.Errorf("rule set version is required")
	}
	rs := &RuleSet{Version: version, Overrides: overrides}
	levels := make(map[string]RiskLevel, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("rule group without name")
		}
		if _, dup := levels[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate rule group %q", spec.Name)
		}
		level, err := ParseRiskLevel(spec.Level)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", spec.Name, err)
		}
		if level == RiskNone {
			return nil, fmt.Errorf("group %s: level none matches nothing", spec.Name)
		}
		domain := Domain(spec.Domain)
		switch domain {
		case DomainMedical, DomainMentalHealth, DomainGeneral:
		case "":
			domain = DomainGeneral
		default:
			return nil, fmt.Errorf("group %s: unknown domain %q", spec.Name, spec.Domain)
		}
		if len(spec.Patterns) == 0 {
			return nil, fmt.Errorf("group %s: no patterns", spec.Name)
		}
		g := Group{Name: spec.Name, Domain: domain, Level: level, Suppresses: spec.Suppresses}
		for _, p := range spec.Patterns {
			re, err := regexp.Compile(`(?i)\b(?:` + p + `)\b`)
			if err != nil {
				return nil, fmt.Errorf("group %s: pattern %q: %w", spec.Name, p, err)
			}
			g.Patterns = append(g.Patterns, re)
		}
		levels[spec.Name] = level
		rs.Groups = append(rs.Groups, g)
	}
	for _, g := range rs.Groups {
		for _, target := range g.Suppresses {
			level, ok := levels[target]
			if !ok {
				return nil, fmt.Errorf("group %s suppresses unknown group %q", g.Name, target)
			}
			if level == RiskCritical {
				return nil, fmt.Errorf("group %s may not suppress critical group %q", g.Name, target)
			}
		}
	}
	return rs, nil
}

// bodyParts limits fracture patterns to anatomy so "broke my record" stays clean.
const bodyParts = `(?:bones?|wrists?|arms?|legs?|ankles?|collarbone|fingers?|thumb|toes?|foot|feet|hands?|nose|ribs?|shin|jaw|elbow|knee|kneecap|hip|shoulder|neck|skull|tibia|fibula|femur)`

// defaultGroups are evaluated in order; on equal levels the first matching
// group picks the override domain, so mental-health crises come first.
var defaultGroups = []groupSpec{
	{
		Name:   "self_harm",
		Domain: string(DomainMentalHealth),
		Level:  string(RiskCritical),
		Patterns: []string{
			`(?:end|take) my (?:own )?life`,
			`kill(?:ing)? myself`,
			`suicid(?:e|al)`,
			`(?:hurt|harm|cut|cutting|hurting|harming) myself`,
			`self[- ]?harm(?:ing)?`,
			`(?:don'?t|do not) want to (?:live|be alive|be here anymore)`,
			`better off dead`,
			`end it all`,
			`no reason to live`,
		},
	},
	{
		Name:   "medical_emergency",
		Domain: string(DomainMedical),
		Level:  string(RiskCritical),
		Patterns: []string{
			`heart attack`,
			`chest (?:pain|pains|tightness)`,
			`(?:can'?t|cannot|can not|struggling to|trouble|difficulty) breath(?:e|ing)`,
			`not breathing`,
			`i(?: just| almost| nearly| keep| kept| was| am|'?m)? (?:passed|passing) out`,
			`(?:he|she|someone|somebody|teammate|player|kid|son|daughter) (?:just )?passed out`,
			`faint(?:ed|ing)`,
			`black(?:ed|ing) out`,
			`lost consciousness`,
			`unconscious`,
			`having a stroke`,
			`seizure`,
			`(?:bleeding|bleeds) (?:heavily|badly|a lot)`,
			`(?:won'?t|will not|doesn'?t|can'?t) stop bleeding`,
			`severe bleeding`,
			`(?:broke|broken|fractured|snapped|cracked) my ` + bodyParts,
			`(?:broken|fractured) ` + bodyParts,
			`bone (?:is )?sticking out`,
			`hit my head and (?:i'?m |i am |feel )?(?:dizzy|confused|vomiting|throwing up)`,
		},
	},
	{
		Name:   "mental_health_high",
		Domain: string(DomainMentalHealth),
		Level:  string(RiskHigh),
		Patterns: []string{
			`eating disorder`,
			`starv(?:e|ing) myself`,
			`(?:make|making) myself (?:throw up|vomit)`,
			`purging`,
			`i (?:have|get|keep having|had) panic attacks?`,
			`(?:being|been|was) abused`,
		},
	},
	{
		Name:   "injury_declaration",
		Domain: string(DomainMedical),
		Level:  string(RiskHigh),
		Patterns: []string{
			`i (?:think i )?(?:tore|torn|sprained|twisted|pulled|strained|injured|hurt|dislocated|rolled) my`,
			`torn (?:acl|mcl|meniscus|ligament|hamstring|muscle)`,
			`i'?m injured`,
			`i am injured`,
			`my injury`,
			`i(?: have|'ve got| got| picked up) (?:an |a )?injury`,
			`i (?:think i )?(?:have|had|got) a concussion`,
			`concussed`,
			`(?:should|do|must) i (?:see|go to|visit) (?:a |the )?(?:doctor|physio|physiotherapist|hospital|er)`,
			`do i need (?:a |to see a )?doctor`,
			`(?:swollen|swelling) (?:\w+ )?(?:ankle|knee|wrist|foot|joint)`,
			`i (?:have|feel|get|got) (?:a )?(?:sharp|shooting) pain`,
		},
	},
	{
		Name:       "past_injury_cleared",
		Domain:     string(DomainMedical),
		Level:      string(RiskMedium),
		Suppresses: []string{"injury_declaration"},
		Patterns: []string{
			`(?:doctor|physio|physiotherapist|surgeon|trainer|pt) (?:has )?cleared me`,
			`(?:been |got |was |am |i'?m )?(?:cleared|clearance) (?:by|from) (?:my |the )?(?:doctor|physio|physiotherapist|surgeon|trainer|medical staff)`,
			`(?:cleared|clearance) to (?:play|train|return)`,
			`(?:fully|completely) (?:recovered|healed)`,
		},
	},
	{
		Name:   "chronic_condition",
		Domain: string(DomainMedical),
		Level:  string(RiskMedium),
		Patterns: []string{
			`asthma`,
			`diabet(?:es|ic)`,
			`chronic`,
			`arthritis`,
			`heart condition`,
			`epilep(?:sy|tic)`,
			`tendinitis|tendonitis`,
		},
	},
	{
		Name:   "general_distress",
		Domain: string(DomainMentalHealth),
		Level:  string(RiskMedium),
		Patterns: []string{
			`anxiety`,
			`depress(?:ed|ion)`,
			`overwhelmed`,
			`burn(?:ed|t) out`,
			`(?:can'?t|cannot) sleep`,
			`hopeless`,
			`sad all the time`,
		},
	},
	{
		Name:   "minor_discomfort",
		Domain: string(DomainGeneral),
		Level:  string(RiskLow),
		Patterns: []string{
			`sore(?:ness)?`,
			`tired`,
			`fatigue(?:d)?`,
			`cramp(?:s|ing)?`,
			`nervous`,
		},
	},
}
