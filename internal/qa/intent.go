package qa

import (
	"fmt"
	"strings"

	"github.com/JaimeStill/sitegraph/internal/capability"
)

// Intent classifies what kind of retrieval a question needs.
type Intent string

const (
	IntentStructured   Intent = "structured"
	IntentUnstructured Intent = "unstructured"
	IntentHybrid       Intent = "hybrid"
	IntentUnknown      Intent = "unknown"
)

var structuredKeywords = []string{
	"多少", "数量", "统计", "总", "平均", "计数", "完成", "进度", "工时", "成本",
	"共有", "合计", "百分比", "比例", "排行", "排名", "汇总",
}

var unstructuredKeywords = []string{
	"什么", "如何", "为什么", "原因", "说明", "解释", "定义", "文档", "记录", "报告",
	"怎么", "怎样", "为何", "导致", "由于", "影响", "方法", "步骤", "流程",
	"指南", "规则", "规范", "标准", "要求", "注意事项", "问题", "隐患",
}

// Classify assigns an intent from keyword evidence alone.
func Classify(question string) Intent {
	structured := containsAny(question, structuredKeywords)
	unstructured := containsAny(question, unstructuredKeywords)

	switch {
	case structured && unstructured:
		return IntentHybrid
	case structured:
		return IntentStructured
	case unstructured:
		return IntentUnstructured
	default:
		return IntentUnknown
	}
}

// KeywordPlan builds a plan without a language model. Unknown intent uses
// both tools.
func KeywordPlan(question string) capability.Plan {
	intent := Classify(question)
	plan := capability.Plan{Intent: string(intent)}

	if intent != IntentUnstructured {
		plan.Calls = append(plan.Calls, capability.ToolCall{Tool: capability.ToolSQL, Input: templateSQL(question)})
	}
	if intent != IntentStructured {
		plan.Calls = append(plan.Calls, capability.ToolCall{Tool: capability.ToolVector, Input: question})
	}
	return plan
}

// ValidatePlan rejects plans naming unknown tools, repeating a tool, or
// carrying empty input.
func ValidatePlan(p capability.Plan) error {
	if len(p.Calls) == 0 {
		return ErrEmptyPlan
	}
	seen := map[capability.Tool]bool{}
	for _, c := range p.Calls {
		if c.Tool != capability.ToolSQL && c.Tool != capability.ToolVector {
			return fmt.Errorf("%w: %q", ErrUnknownTool, c.Tool)
		}
		if seen[c.Tool] {
			return fmt.Errorf("%w: %q", ErrDuplicateTool, c.Tool)
		}
		if strings.TrimSpace(c.Input) == "" {
			return fmt.Errorf("%w: %q", ErrEmptyToolInput, c.Tool)
		}
		seen[c.Tool] = true
	}
	return nil
}

var activityKeywords = []struct {
	keyword  string
	activity string
}{
	{"混凝土", "混凝土浇筑"},
	{"浇筑", "混凝土浇筑"},
	{"钢筋", "钢筋绑扎"},
	{"模板", "模板安装"},
	{"砌", "砌体砌筑"},
	{"土方", "土方开挖"},
	{"开挖", "土方开挖"},
	{"防水", "防水施工"},
	{"脚手架", "脚手架搭设"},
}

var periods = []struct {
	keyword   string
	condition string
}{
	{"上周", "record_date >= date_trunc('week', current_date) - interval '1 week' AND record_date < date_trunc('week', current_date)"},
	{"本周", "record_date >= date_trunc('week', current_date)"},
	{"这周", "record_date >= date_trunc('week', current_date)"},
	{"上个月", "record_date >= date_trunc('month', current_date) - interval '1 month' AND record_date < date_trunc('month', current_date)"},
	{"上月", "record_date >= date_trunc('month', current_date) - interval '1 month' AND record_date < date_trunc('month', current_date)"},
	{"本月", "record_date >= date_trunc('month', current_date)"},
	{"昨天", "record_date = current_date - 1"},
	{"今天", "record_date = current_date"},
}

// templateSQL builds a query from fixed fragments selected by keyword. No
// question text is interpolated.
func templateSQL(question string) string {
	var conditions []string
	for _, a := range activityKeywords {
		if strings.Contains(question, a.keyword) {
			conditions = append(conditions, fmt.Sprintf("activity_type = '%s'", a.activity))
			break
		}
	}
	for _, p := range periods {
		if strings.Contains(question, p.keyword) {
			conditions = append(conditions, p.condition)
			break
		}
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	if containsAny(question, structuredKeywords) {
		return "SELECT activity_type, unit, SUM(quantity) AS total_quantity, COUNT(*) AS record_count " +
			"FROM construction_records" + where + " GROUP BY activity_type, unit ORDER BY activity_type"
	}
	return "SELECT record_date, project, location, activity_type, quantity, unit, team " +
		"FROM construction_records" + where + " ORDER BY record_date DESC LIMIT 20"
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
