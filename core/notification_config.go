package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ConfigKind string

const (
	ConfigKindAnalyticsSeries ConfigKind = "analytics_series"
	ConfigKindStaticSeries    ConfigKind = "static_series"
)

// NotificationConfig is the alert configuration union. The only
// implementations are AnalyticsSeriesConfig and StaticSeriesConfig.
type NotificationConfig interface {
	Kind() ConfigKind
	Validate() error
	notificationConfig()
}

type ConditionOperator string

const (
	OperatorGreaterThan      ConditionOperator = "gt"
	OperatorGreaterThanEqual ConditionOperator = "gte"
	OperatorLessThan         ConditionOperator = "lt"
	OperatorLessThanEqual    ConditionOperator = "lte"
	OperatorEqual            ConditionOperator = "eq"
)

type Condition struct {
	Operator  ConditionOperator `json:"operator"`
	Threshold float64           `json:"threshold"`
	Unit      string            `json:"unit,omitempty"`
}

func (c Condition) Validate() error {
	switch c.Operator {
	case OperatorGreaterThan, OperatorGreaterThanEqual, OperatorLessThan, OperatorLessThanEqual, OperatorEqual:
		return nil
	default:
		return validationError("conditions.operator", fmt.Sprintf("unsupported operator %q", c.Operator))
	}
}

// Matches evaluates the condition against an observed value.
func (c Condition) Matches(value float64) bool {
	switch c.Operator {
	case OperatorGreaterThan:
		return value > c.Threshold
	case OperatorGreaterThanEqual:
		return value >= c.Threshold
	case OperatorLessThan:
		return value < c.Threshold
	case OperatorLessThanEqual:
		return value <= c.Threshold
	case OperatorEqual:
		return value == c.Threshold
	default:
		return false
	}
}

type AnalyticsSeriesConfig struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Filter      map[string]any `json:"filter"`
	Conditions  []Condition    `json:"conditions"`
}

func NewAnalyticsSeriesConfig(title string, filter map[string]any, conditions ...Condition) (AnalyticsSeriesConfig, error) {
	cfg := AnalyticsSeriesConfig{
		Title:      strings.TrimSpace(title),
		Filter:     filter,
		Conditions: append([]Condition(nil), conditions...),
	}
	if err := cfg.Validate(); err != nil {
		return AnalyticsSeriesConfig{}, err
	}
	return cfg, nil
}

func (AnalyticsSeriesConfig) Kind() ConfigKind { return ConfigKindAnalyticsSeries }

func (c AnalyticsSeriesConfig) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return validationError("config.title", "title is required")
	}
	if len(c.Filter) == 0 {
		return validationError("config.filter", "analytics filter is required")
	}
	return validateConditions(c.Conditions)
}

func (AnalyticsSeriesConfig) notificationConfig() {}

type StaticSeriesConfig struct {
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	DatasetID   string      `json:"datasetId"`
	Conditions  []Condition `json:"conditions"`
}

func NewStaticSeriesConfig(title string, datasetID string, conditions ...Condition) (StaticSeriesConfig, error) {
	cfg := StaticSeriesConfig{
		Title:      strings.TrimSpace(title),
		DatasetID:  strings.TrimSpace(datasetID),
		Conditions: append([]Condition(nil), conditions...),
	}
	if err := cfg.Validate(); err != nil {
		return StaticSeriesConfig{}, err
	}
	return cfg, nil
}

func (StaticSeriesConfig) Kind() ConfigKind { return ConfigKindStaticSeries }

func (c StaticSeriesConfig) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return validationError("config.title", "title is required")
	}
	if strings.TrimSpace(c.DatasetID) == "" {
		return validationError("config.datasetId", "dataset id is required")
	}
	return validateConditions(c.Conditions)
}

func (StaticSeriesConfig) notificationConfig() {}

func validateConditions(conditions []Condition) error {
	if len(conditions) == 0 {
		return validationError("config.conditions", "at least one condition is required")
	}
	for _, condition := range conditions {
		if err := condition.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// configKindFor maps alert notification types to the config variant they
// require.
func configKindFor(notificationType NotificationType) (ConfigKind, bool) {
	switch notificationType {
	case NotificationAlertAnalytics:
		return ConfigKindAnalyticsSeries, true
	case NotificationAlertStatic:
		return ConfigKindStaticSeries, true
	default:
		return "", false
	}
}

// ValidateSubscription checks the newsletter/alert shape rules for a
// notification.
func ValidateSubscription(notificationType NotificationType, entityCUI string, cfg NotificationConfig) error {
	if _, err := ParseNotificationType(string(notificationType)); err != nil {
		return err
	}
	if notificationType.IsNewsletter() {
		if strings.TrimSpace(entityCUI) == "" {
			return validationError("entity_cui", "entity cui is required for newsletters")
		}
		return nil
	}
	if cfg == nil {
		return validationError("config", "config is required for alerts")
	}
	want, _ := configKindFor(notificationType)
	if cfg.Kind() != want {
		return validationError("config", fmt.Sprintf("config kind %q does not match %q", cfg.Kind(), notificationType))
	}
	return cfg.Validate()
}

type configEnvelope struct {
	Kind ConfigKind      `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalNotificationConfig encodes a config with its kind discriminator.
func MarshalNotificationConfig(cfg NotificationConfig) ([]byte, error) {
	if cfg == nil {
		return nil, nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(configEnvelope{Kind: cfg.Kind(), Data: data})
}

// ParseNotificationConfig decodes and validates a tagged config document.
func ParseNotificationConfig(raw []byte) (NotificationConfig, error) {
	if len(strings.TrimSpace(string(raw))) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return nil, nil
	}
	var envelope configEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, validationError("config", "config is not valid json")
	}
	var cfg NotificationConfig
	switch envelope.Kind {
	case ConfigKindAnalyticsSeries:
		var typed AnalyticsSeriesConfig
		if err := json.Unmarshal(envelope.Data, &typed); err != nil {
			return nil, validationError("config.data", "analytics series config is malformed")
		}
		cfg = typed
	case ConfigKindStaticSeries:
		var typed StaticSeriesConfig
		if err := json.Unmarshal(envelope.Data, &typed); err != nil {
			return nil, validationError("config.data", "static series config is malformed")
		}
		cfg = typed
	default:
		return nil, validationError("config.kind", fmt.Sprintf("unknown config kind %q", envelope.Kind))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigToMap and ConfigFromMap bridge the tagged config to jsonb columns.
func ConfigToMap(cfg NotificationConfig) (map[string]any, error) {
	raw, err := MarshalNotificationConfig(cfg)
	if err != nil || raw == nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func ConfigFromMap(values map[string]any) (NotificationConfig, error) {
	if len(values) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return ParseNotificationConfig(raw)
}
