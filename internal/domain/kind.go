package domain

// ResourceKind — закрытый набор типов ресурсов Device API.
// Диспетчеризация по виду идет через таблицу стратегий, не через
// рефлексию: каждому виду соответствует строка с правилами diff,
// порядком под-операций и флагами идемпотентности/восстановимости.
type ResourceKind string

const (
	KindFirewallRule  ResourceKind = "firewall_rule"
	KindSwitchACL     ResourceKind = "switch_acl"
	KindVLAN          ResourceKind = "vlan"
	KindSSID          ResourceKind = "ssid"
	KindSwitchPort    ResourceKind = "switch_port"
	KindAlertSettings ResourceKind = "alert_settings"
)

// DowntimeClass — грубая оценка простоя при применении
type DowntimeClass string

const (
	DowntimeNone     DowntimeClass = "none"
	DowntimeBrief    DowntimeClass = "brief"
	DowntimeModerate DowntimeClass = "moderate"
	DowntimeExtended DowntimeClass = "extended"
)

// SubOp — именованная под-операция внутри одной цели.
// Fields перечисляет ключи Params, которые уходят в этом шаге;
// пустой список означает "все оставшиеся поля".
type SubOp struct {
	Name   string
	Fields []string
}

// KindStrategy — строка таблицы стратегий для одного вида ресурса
type KindStrategy struct {
	// Collection: удаленный API заменяет весь набор одним вызовом
	// (упорядоченный массив правил). Diff считается по всей коллекции.
	Collection      bool
	CollectionField string // Ключ состояния со списком записей

	// SubOps — упорядоченные под-операции на одну цель
	// (например, сначала базовая конфигурация SSID, потом включение).
	// nil означает одну запись с полным payload.
	SubOps []SubOp

	// Idempotent: повтор write с тем же payload безопасен.
	// Классификатор ретраев не повторяет неидемпотентный вызов,
	// который мог уже применить мутацию.
	Idempotent bool

	// Восстановимость по backup-снимку в разрезе операций:
	// replay backup не воскрешает удаленный ресурс, на который
	// могут ссылаться живые объекты (классический случай — VLAN,
	// привязанный к портам).
	RestorableOnCreate bool
	RestorableOnUpdate bool
	RestorableOnDelete bool

	Downtime DowntimeClass
}

// Restorable отвечает, можно ли откатить операцию данного вида
// простым повтором backup-состояния
func (s KindStrategy) Restorable(op OperationKind) bool {
	switch op {
	case OpCreate:
		return s.RestorableOnCreate
	case OpUpdate:
		return s.RestorableOnUpdate
	case OpDelete:
		return s.RestorableOnDelete
	case OpRollback:
		// Откат отката — та же механика, что и update
		return s.RestorableOnUpdate
	}
	return false
}

var kindStrategies = map[ResourceKind]KindStrategy{
	KindFirewallRule: {
		Collection:         true,
		CollectionField:    "rules",
		Idempotent:         true, // Полная замена набора — повтор безопасен
		RestorableOnCreate: true,
		RestorableOnUpdate: true,
		RestorableOnDelete: true,
		Downtime:           DowntimeBrief,
	},
	KindSwitchACL: {
		Collection:         true,
		CollectionField:    "rules",
		Idempotent:         true,
		RestorableOnCreate: true,
		RestorableOnUpdate: true,
		RestorableOnDelete: true,
		Downtime:           DowntimeBrief,
	},
	KindVLAN: {
		Idempotent:         true,
		RestorableOnCreate: true, // Откат create = delete по backup-набору
		RestorableOnUpdate: true,
		RestorableOnDelete: false, // Удаленную VLAN не пересоздаем автоматически
		Downtime:           DowntimeModerate,
	},
	KindSSID: {
		// Сначала базовая конфигурация, потом включение:
		// включать недонастроенный SSID нельзя
		SubOps: []SubOp{
			{Name: "configure"},
			{Name: "enable", Fields: []string{"enabled"}},
		},
		Idempotent:         true,
		RestorableOnCreate: true,
		RestorableOnUpdate: true,
		RestorableOnDelete: true,
		Downtime:           DowntimeBrief,
	},
	KindSwitchPort: {
		Idempotent:         true,
		RestorableOnCreate: true,
		RestorableOnUpdate: true,
		RestorableOnDelete: true,
		Downtime:           DowntimeNone,
	},
	KindAlertSettings: {
		Idempotent:         true,
		RestorableOnCreate: true,
		RestorableOnUpdate: true,
		RestorableOnDelete: true,
		Downtime:           DowntimeNone,
	},
}

// StrategyFor возвращает стратегию вида. Неизвестный вид не получает
// дефолтной стратегии — вызывающий обязан отказать (Zero Trust).
func StrategyFor(kind ResourceKind) (KindStrategy, bool) {
	s, ok := kindStrategies[kind]
	return s, ok
}

// KnownKinds возвращает все зарегистрированные виды (для валидации входа)
func KnownKinds() []ResourceKind {
	out := make([]ResourceKind, 0, len(kindStrategies))
	for k := range kindStrategies {
		out = append(out, k)
	}
	return out
}
