// Package ner is a rule-based entity extractor for Chinese construction logs.
package ner

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/JaimeStill/sitegraph/internal/capability"
)

type rule struct {
	label      string
	pattern    *regexp.Regexp
	group      int
	confidence float64
}

var rules = []rule{
	{capability.LabelDate, regexp.MustCompile(`\d{4}[-年/.]\d{1,2}[-月/.]\d{1,2}日?`), 0, 0.99},
	{capability.LabelLocation, regexp.MustCompile(`[A-Za-z]区\d+(?:号楼|栋)`), 0, 0.95},
	{capability.LabelLocation, regexp.MustCompile(`(?:地点|位置)[:：]\s*([\p{Han}A-Za-z0-9]+)`), 1, 0.95},
	{capability.LabelTeam, regexp.MustCompile(`施工队伍[:：]?\s*([\p{Han}]+班组)`), 1, 0.96},
	{capability.LabelWorkpoint, regexp.MustCompile(`工点[:：]?\s*([\p{Han}A-Za-z0-9]+)`), 1, 0.97},
	{capability.LabelSubproject, regexp.MustCompile(`分项工程[:：]?\s*([\p{Han}]+)`), 1, 0.98},
	{capability.LabelPosition, regexp.MustCompile(`部位[:：]?\s*(\d+层|地下室|屋面|[\p{Han}\d]+)`), 1, 0.99},
	{capability.LabelProcess, regexp.MustCompile(`工序[:：]?\s*([\p{Han}]+)`), 1, 0.98},
	{capability.LabelWeather, regexp.MustCompile(`天气[:：]?\s*([\p{Han}]+)`), 1, 0.95},
}

var listRules = []rule{
	{capability.LabelWorker, regexp.MustCompile(`(?:人员|工人)[:：]\s*([^\n。；;]+)`), 1, 0.9},
	{capability.LabelEquipment, regexp.MustCompile(`(?:设备|机械)[:：]\s*([^\n。；;]+)`), 1, 0.9},
	{capability.LabelIssue, regexp.MustCompile(`(?:问题|隐患)[:：]\s*([^\n。；;]+)`), 1, 0.85},
}

var (
	quantityPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(立方米|平方米|m³|m3|㎡|m2|方|吨|kg|t|米|m|根|块|个)`)
	listSeparator   = regexp.MustCompile(`[、,，\s]+`)
)

// activities maps keywords to the activity type they indicate, in priority order.
var activities = []struct {
	keyword  string
	activity string
}{
	{"混凝土", "混凝土浇筑"},
	{"浇筑", "混凝土浇筑"},
	{"钢筋", "钢筋绑扎"},
	{"模板", "模板安装"},
	{"砌筑", "砌体砌筑"},
	{"砌体", "砌体砌筑"},
	{"土方", "土方开挖"},
	{"开挖", "土方开挖"},
	{"防水", "防水施工"},
	{"脚手架", "脚手架搭设"},
}

const (
	quantityConfidence = 0.99
	activityConfidence = 0.9
)

// Extractor implements capability.EntityExtractor.
type Extractor struct{}

// New creates a rule-based Extractor.
func New() *Extractor {
	return &Extractor{}
}

// ExtractEntities returns entities ordered by position. Offsets are byte offsets into text.
func (x *Extractor) ExtractEntities(ctx context.Context, text string) ([]capability.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []capability.Entity

	for _, r := range rules {
		for _, m := range r.pattern.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[2*r.group], m[2*r.group+1]
			out = append(out, capability.Entity{
				Label:      r.label,
				Value:      text[start:end],
				Start:      start,
				End:        end,
				Confidence: r.confidence,
			})
		}
	}

	for _, r := range listRules {
		for _, m := range r.pattern.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[2], m[3]
			for _, item := range listSeparator.Split(text[start:end], -1) {
				if item == "" {
					continue
				}
				offset := start + strings.Index(text[start:end], item)
				out = append(out, capability.Entity{
					Label:      r.label,
					Value:      item,
					Start:      offset,
					End:        offset + len(item),
					Confidence: r.confidence,
				})
			}
		}
	}

	if m := quantityPattern.FindStringSubmatchIndex(text); m != nil {
		out = append(out,
			capability.Entity{Label: capability.LabelQuantity, Value: text[m[2]:m[3]], Start: m[2], End: m[3], Confidence: quantityConfidence},
			capability.Entity{Label: capability.LabelUnit, Value: text[m[4]:m[5]], Start: m[4], End: m[5], Confidence: quantityConfidence},
		)
	}

	if e, ok := detectActivity(text); ok {
		out = append(out, e)
	}

	slices.SortStableFunc(out, func(a, b capability.Entity) int {
		return a.Start - b.Start
	})
	return out, nil
}

// detectActivity picks the highest-priority activity keyword present in text.
func detectActivity(text string) (capability.Entity, bool) {
	for _, a := range activities {
		if i := strings.Index(text, a.keyword); i >= 0 {
			return capability.Entity{
				Label:      capability.LabelActivity,
				Value:      a.activity,
				Start:      i,
				End:        i + len(a.keyword),
				Confidence: activityConfidence,
			}, true
		}
	}
	return capability.Entity{}, false
}
