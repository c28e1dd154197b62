package ledger

import (
	"regexp"
	"sort"
	"strings"
)

type GroupType string

const (
	GroupTypeSpam      GroupType = "垃圾群"
	GroupTypeExchange  GroupType = "交流群"
	GroupTypeDeduction GroupType = "演绎群"
)

type Worldview string

const (
	WorldviewModernFantasy   Worldview = "现玄"
	WorldviewAncientFantasy  Worldview = "古玄"
	WorldviewWesternFantasy  Worldview = "西幻"
	WorldviewAncientOriginal Worldview = "古原"
	WorldviewModernOriginal  Worldview = "现原"
	WorldviewFanfiction      Worldview = "同人"
	WorldviewSciFi           Worldview = "科幻"
)

// ParseGroupType accepts the stored label or its English alias.
func ParseGroupType(v string) (GroupType, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case string(GroupTypeSpam), "spam":
		return GroupTypeSpam, true
	case string(GroupTypeExchange), "exchange":
		return GroupTypeExchange, true
	case string(GroupTypeDeduction), "deduction":
		return GroupTypeDeduction, true
	default:
		return "", false
	}
}

// Classification holds the hints derived from normalized content. Empty
// GroupType or Worldview means no rule matched.
type Classification struct {
	GroupType        GroupType `json:"group_type,omitempty"`
	Worldview        Worldview `json:"worldview,omitempty"`
	HasSexualContent bool      `json:"has_sexual_content"`
	NoAuditSetting   bool      `json:"no_audit_setting"`
}

// Keywords are the rule tables. Matching is case-sensitive substring containment.
type Keywords struct {
	Spam      []string `yaml:"spam_groups"`
	Exchange  []string `yaml:"exchange_groups"`
	Deduction []string `yaml:"deduction_groups"`

	ModernFantasy   []string `yaml:"worldview_modern_fantasy"`
	AncientFantasy  []string `yaml:"worldview_ancient_fantasy"`
	WesternFantasy  []string `yaml:"worldview_western_fantasy"`
	AncientOriginal []string `yaml:"worldview_ancient_original"`
	ModernOriginal  []string `yaml:"worldview_modern_original"`
	Fanfiction      []string `yaml:"worldview_tongren"`
	SciFi           []string `yaml:"worldview_sci_fi"`

	SexualContent []string `yaml:"sexual_content"`
	NoAudit       []string `yaml:"no_audit_expressions"`
}

func DefaultKeywords() Keywords {
	return Keywords{
		Spam:      []string{"刷单", "兼职", "返利", "博彩", "贷款", "加微信", "日结", "代刷"},
		Exchange:  []string{"交流群", "闲聊", "水群", "交友", "聊天群"},
		Deduction: []string{"演绎", "语C", "语c", "对戏", "戏群", "招募"},

		ModernFantasy:   []string{"现玄", "现代玄幻", "都市异能", "灵异"},
		AncientFantasy:  []string{"古玄", "古代玄幻", "修仙", "仙侠", "宗门"},
		WesternFantasy:  []string{"西幻", "西方幻想", "魔法", "骑士", "精灵"},
		AncientOriginal: []string{"古原", "古代原创", "宫廷", "江湖", "武侠"},
		ModernOriginal:  []string{"现原", "现代原创", "豪门", "校园"},
		Fanfiction:      []string{"同人", "原著向", "衍生"},
		SciFi:           []string{"科幻", "星际", "赛博", "末世"},

		SexualContent: []string{"涩涩", "色色", "肉戏", "车戏", "开车", "R18", "r18"},
		NoAudit:       []string{"无审无设", "无审", "无设", "免审", "不审核"},
	}
}

type groupTypeRule struct {
	label    GroupType
	keywords []string
}

type worldviewRule struct {
	label    Worldview
	keywords []string
}

// Classifier evaluates Keywords against normalized content. Rule order is fixed:
// spam beats exchange beats deduction, and worldviews are tried in declaration order.
type Classifier struct {
	groupTypes []groupTypeRule
	worldviews []worldviewRule
	sexual     []string
	noAudit    []string
}

func NewClassifier(kw Keywords) *Classifier {
	return &Classifier{
		groupTypes: []groupTypeRule{
			{GroupTypeSpam, cleanKeywords(kw.Spam)},
			{GroupTypeExchange, cleanKeywords(kw.Exchange)},
			{GroupTypeDeduction, cleanKeywords(kw.Deduction)},
		},
		worldviews: []worldviewRule{
			{WorldviewModernFantasy, cleanKeywords(kw.ModernFantasy)},
			{WorldviewAncientFantasy, cleanKeywords(kw.AncientFantasy)},
			{WorldviewWesternFantasy, cleanKeywords(kw.WesternFantasy)},
			{WorldviewAncientOriginal, cleanKeywords(kw.AncientOriginal)},
			{WorldviewModernOriginal, cleanKeywords(kw.ModernOriginal)},
			{WorldviewFanfiction, cleanKeywords(kw.Fanfiction)},
			{WorldviewSciFi, cleanKeywords(kw.SciFi)},
		},
		sexual:  cleanKeywords(kw.SexualContent),
		noAudit: cleanKeywords(kw.NoAudit),
	}
}

func (c *Classifier) Classify(content string) Classification {
	var out Classification
	for _, r := range c.groupTypes {
		if containsAny(content, r.keywords) {
			out.GroupType = r.label
			break
		}
	}
	for _, r := range c.worldviews {
		if containsAny(content, r.keywords) {
			out.Worldview = r.label
			break
		}
	}
	out.HasSexualContent = containsAny(content, c.sexual)
	out.NoAuditSetting = containsAny(content, c.noAudit)
	return out
}

// An empty keyword would match everything.
func cleanKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

func containsAny(content string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(content, k) {
			return true
		}
	}
	return false
}

var tagPattern = regexp.MustCompile(`#([\x{4e00}-\x{9fa5}a-zA-Z0-9_]+)`)

// ExtractTags returns the distinct #tags in content, sorted.
func ExtractTags(content string) []string {
	matches := tagPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(matches))
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		tags = append(tags, m[1])
	}
	sort.Strings(tags)
	return tags
}
