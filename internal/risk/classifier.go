package risk

import (
	"github.com/xela07ax/netchange-gateway/internal/domain"
	"go.uber.org/zap"
)

// Classifier назначает начальный уровень риска запросу по таблице
// правил (вид ресурса + операция) и параметрам. Это стартовая оценка:
// Preview Builder может только эскалировать ее по фактическому диффу.
type Classifier struct {
	// BatchThreshold: изменение, затрагивающее больше целей, чем порог,
	// эскалируется на ступень вверх
	batchThreshold int
	logger         *zap.Logger
}

func NewClassifier(batchThreshold int, logger *zap.Logger) *Classifier {
	if batchThreshold <= 0 {
		batchThreshold = 10
	}
	return &Classifier{batchThreshold: batchThreshold, logger: logger.Named("risk")}
}

// Базовая таблица: (вид, операция) -> риск.
// Firewall/ACL и любые delete — high; откат тоже high (он мутирует).
var baseTable = map[domain.ResourceKind]map[domain.OperationKind]domain.RiskLevel{
	domain.KindSSID: {
		domain.OpCreate: domain.RiskModerate,
		domain.OpUpdate: domain.RiskModerate,
		domain.OpDelete: domain.RiskHigh,
	},
	domain.KindVLAN: {
		domain.OpCreate: domain.RiskModerate,
		domain.OpUpdate: domain.RiskModerate,
		domain.OpDelete: domain.RiskHigh,
	},
	domain.KindSwitchPort: {
		domain.OpCreate: domain.RiskModerate,
		domain.OpUpdate: domain.RiskModerate,
		domain.OpDelete: domain.RiskHigh,
	},
	domain.KindAlertSettings: {
		domain.OpCreate: domain.RiskModerate,
		domain.OpUpdate: domain.RiskModerate,
		domain.OpDelete: domain.RiskModerate,
	},
	domain.KindFirewallRule: {
		domain.OpCreate: domain.RiskHigh,
		domain.OpUpdate: domain.RiskHigh,
		domain.OpDelete: domain.RiskHigh,
	},
	domain.KindSwitchACL: {
		domain.OpCreate: domain.RiskHigh,
		domain.OpUpdate: domain.RiskHigh,
		domain.OpDelete: domain.RiskHigh,
	},
}

// Classify возвращает уровень риска запроса. Неклассифицированные
// комбинации получают high — незнакомое опаснее знакомого.
func (c *Classifier) Classify(req *domain.ChangeRequest) domain.RiskLevel {
	level := domain.RiskHigh
	if req.Operation == domain.OpRollback {
		// Откат повторяет backup поверх живого состояния
		level = domain.RiskHigh
	} else if ops, ok := baseTable[req.Kind]; ok {
		if l, ok := ops[req.Operation]; ok {
			level = l
		}
	}

	// Deny-all в параметрах — critical сразу, не дожидаясь превью
	if IsDenyAll(req.Params) {
		level = level.Escalate(domain.RiskCritical)
	}

	// Массовое изменение: больше порога устройств — ступень вверх
	if len(req.TargetIDs) > c.batchThreshold {
		c.logger.Warn("batch threshold exceeded, escalating risk",
			zap.Int("targets", len(req.TargetIDs)),
			zap.Int("threshold", c.batchThreshold),
		)
		switch level {
		case domain.RiskLow:
			level = domain.RiskModerate
		case domain.RiskModerate:
			level = domain.RiskHigh
		default:
			level = domain.RiskCritical
		}
	}

	return level
}

// IsDenyAll распознает правило "deny any -> any" в желаемых параметрах
func IsDenyAll(params domain.State) bool {
	rule, ok := params["rule"].(map[string]interface{})
	if !ok {
		return IsDenyAllRule(map[string]interface{}(params))
	}
	return IsDenyAllRule(rule)
}

// IsDenyAllRule проверяет одну запись коллекции. Deny с конкретным
// протоколом или портом — это не deny-all: блокируется весь трафик
// только когда все измерения правила открыты.
func IsDenyAllRule(rule map[string]interface{}) bool {
	policy, _ := rule["policy"].(string)
	if policy != "deny" {
		return false
	}
	for _, key := range []string{"srcCidr", "destCidr", "protocol", "destPort"} {
		v, ok := rule[key].(string)
		if ok && v != "any" && v != "" {
			return false
		}
	}
	return true
}
