package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CleaningRule 清洗规则。返回 error 表示该行被拒绝。
type CleaningRule interface {
	Apply(*Row) (*Row, error)
	Name() string
}

// QualityIssue 质量问题
type QualityIssue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // low, high
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Line      int       `json:"line"`
}

// CleaningStats 清洗统计
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Corrected      int64            `json:"corrected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// DataCleaner 数据清洗器
type DataCleaner struct {
	rules  []CleaningRule
	logger *zap.Logger

	issues     []QualityIssue
	issuesLock sync.RWMutex

	stats     CleaningStats
	statsLock sync.RWMutex
}

// NewDataCleaner 创建带默认规则的清洗器：文本清洗和必填字段。
// 重复行默认保留，需要时用 AddRule(NewDuplicateDetectionRule()) 开启去重
func NewDataCleaner(logger *zap.Logger) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := &DataCleaner{
		logger: logger.Named("cleaner"),
		issues: make([]QualityIssue, 0),
		stats: CleaningStats{
			Issues: make(map[string]int64),
		},
	}

	// 先清洗再判空
	cleaner.AddRule(NewSanitizeRule())
	cleaner.AddRule(NewRequiredFieldsRule())

	return cleaner
}

// AddRule 添加清洗规则
func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	dc.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean 清洗数据，返回保留的行和发现的问题
func (dc *DataCleaner) Clean(rows []Row) ([]Row, []QualityIssue) {
	cleaned := make([]Row, 0, len(rows))
	var issues []QualityIssue

	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	for i := range rows {
		dc.stats.TotalProcessed++

		original := rows[i]
		current := rows[i]
		row := &current
		var rowIssue *QualityIssue

		// 一行只记录第一个拒绝原因
		for _, rule := range dc.rules {
			next, err := rule.Apply(row)
			if err != nil {
				rowIssue = &QualityIssue{
					Type:      rule.Name(),
					Severity:  severityOf(rule),
					Message:   err.Error(),
					Timestamp: time.Now(),
					Line:      row.Line,
				}
				dc.stats.Issues[rule.Name()]++
				break
			}
			if next != nil {
				row = next
			}
		}

		if rowIssue != nil {
			dc.stats.Rejected++
			issues = append(issues, *rowIssue)
			continue
		}
		if original != *row {
			dc.stats.Corrected++
		}
		dc.stats.Passed++
		cleaned = append(cleaned, *row)
	}
	dc.stats.LastClean = time.Now()

	if len(issues) > 0 {
		dc.issuesLock.Lock()
		dc.issues = append(dc.issues, issues...)
		dc.issuesLock.Unlock()
	}

	dc.logger.Info("cleaned training rows",
		zap.Int("input", len(rows)),
		zap.Int("kept", len(cleaned)),
		zap.Int("rejected", len(issues)))
	return cleaned, issues
}

func severityOf(rule CleaningRule) string {
	if _, ok := rule.(*DuplicateDetectionRule); ok {
		return "low"
	}
	return "high"
}

// GetStats 获取统计信息
func (dc *DataCleaner) GetStats() CleaningStats {
	dc.statsLock.RLock()
	defer dc.statsLock.RUnlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// GetIssues 获取最近的 limit 个问题，limit<=0 返回全部
func (dc *DataCleaner) GetIssues(limit int) []QualityIssue {
	dc.issuesLock.RLock()
	defer dc.issuesLock.RUnlock()

	if limit <= 0 || limit > len(dc.issues) {
		limit = len(dc.issues)
	}

	issues := make([]QualityIssue, limit)
	copy(issues, dc.issues[len(dc.issues)-limit:])
	return issues
}

// ClearIssues 清空问题列表
func (dc *DataCleaner) ClearIssues() {
	dc.issuesLock.Lock()
	defer dc.issuesLock.Unlock()

	dc.issues = make([]QualityIssue, 0)
}

// ============ 清洗规则实现 ============

// SanitizeRule 文本清洗规则，类别只去首尾空白
type SanitizeRule struct{}

func NewSanitizeRule() *SanitizeRule {
	return &SanitizeRule{}
}

func (r *SanitizeRule) Name() string {
	return "sanitize"
}

func (r *SanitizeRule) Apply(row *Row) (*Row, error) {
	row.Text = Sanitize(row.Text)
	row.Category = strings.TrimSpace(row.Category)
	return row, nil
}

// RequiredFieldsRule 必填字段规则
type RequiredFieldsRule struct{}

func NewRequiredFieldsRule() *RequiredFieldsRule {
	return &RequiredFieldsRule{}
}

func (r *RequiredFieldsRule) Name() string {
	return "required_fields"
}

func (r *RequiredFieldsRule) Apply(row *Row) (*Row, error) {
	if row.Text == "" {
		return nil, fmt.Errorf("line %d: empty text", row.Line)
	}
	if row.Category == "" {
		return nil, fmt.Errorf("line %d: empty category", row.Line)
	}
	return row, nil
}

// DuplicateDetectionRule 重复检测规则，文本和类别都相同才算重复
type DuplicateDetectionRule struct {
	seenMap map[string]int
	mu      sync.Mutex
}

func NewDuplicateDetectionRule() *DuplicateDetectionRule {
	return &DuplicateDetectionRule{
		seenMap: make(map[string]int),
	}
}

func (r *DuplicateDetectionRule) Name() string {
	return "duplicate_detection"
}

func (r *DuplicateDetectionRule) Apply(row *Row) (*Row, error) {
	key := row.Category + "\x00" + row.Text

	r.mu.Lock()
	defer r.mu.Unlock()

	if first, exists := r.seenMap[key]; exists {
		return nil, fmt.Errorf("line %d: duplicate of line %d", row.Line, first)
	}

	r.seenMap[key] = row.Line
	return row, nil
}
