package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// WarningSeverity — серьезность предупреждения в превью
type WarningSeverity string

const (
	SeverityInfo     WarningSeverity = "info"
	SeverityWarning  WarningSeverity = "warning"
	SeverityCritical WarningSeverity = "critical"
)

type Warning struct {
	Severity WarningSeverity `json:"severity"`
	Code     string          `json:"code"`
	Message  string          `json:"message"`
	TargetID string          `json:"target_id,omitempty"`
}

// FieldDiff — одна строка диффа: поле, было, станет.
// Для коллекций Field имеет вид "rules[3].policy".
type FieldDiff struct {
	Field  string      `json:"field"`
	Before interface{} `json:"before"`
	After  interface{} `json:"after"`
}

// ImpactSummary — сводка для оператора перед подтверждением
type ImpactSummary struct {
	TargetCount int           `json:"target_count"`
	Downtime    DowntimeClass `json:"downtime"`
}

// TargetPreview — до/после для одной цели
type TargetPreview struct {
	TargetID string      `json:"target_id"`
	Current  State       `json:"current"`  // Снимок как прочитан из API
	Proposed State       `json:"proposed"` // Вычислен локально, НЕ применен
	Diff     []FieldDiff `json:"diff"`
}

// ChangePreview — производная сущность, не персистится отдельно.
// Пересчитывается на каждый заход; оператор подтверждает конкретное
// поколение превью по его хэшу, а не запрос вообще.
type ChangePreview struct {
	RequestID string          `json:"request_id"`
	Targets   []TargetPreview `json:"targets"`
	Impact    ImpactSummary   `json:"impact"`
	Warnings  []Warning       `json:"warnings"`
	Risk      RiskLevel       `json:"risk"` // После эскалаций билдера
	BuiltAt   time.Time       `json:"built_at"`

	// Hash — токен поколения: привязывает одобрение к ровно этому
	// состоянию до/после. Любое промежуточное чтение, изменившее
	// current, делает прежнее одобрение недействительным.
	Hash string `json:"hash"`
}

// ComputeHash детерминированно сворачивает request id + все пары
// current/proposed. json.Marshal сортирует ключи мап, поэтому два
// одинаковых превью дают одинаковый токен.
func (p *ChangePreview) ComputeHash() string {
	h := sha256.New()
	h.Write([]byte(p.RequestID))
	for _, t := range p.Targets {
		h.Write([]byte(t.TargetID))
		if b, err := json.Marshal(t.Current); err == nil {
			h.Write(b)
		}
		if b, err := json.Marshal(t.Proposed); err == nil {
			h.Write(b)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// HasCriticalWarning — есть ли в превью предупреждение критической серьезности
func (p *ChangePreview) HasCriticalWarning() bool {
	for _, w := range p.Warnings {
		if w.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
