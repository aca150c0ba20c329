package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"homeguard/internal/config"
	"homeguard/internal/model"
)

// DynamoAPI is the part of *dynamodb.Client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// A DynamoDB transaction holds at most 100 items.
const maxTransactItems = 100

type ruleItem struct {
	ID               string         `dynamodbav:"id"`
	Name             string         `dynamodbav:"name"`
	ConditionType    string         `dynamodbav:"condition_type"`
	Operator         string         `dynamodbav:"operator"`
	ConditionValue   string         `dynamodbav:"condition_value"`
	Sensitivity      string         `dynamodbav:"sensitivity"`
	NotificationType string         `dynamodbav:"notification_type"`
	Actions          []model.Action `dynamodbav:"actions"`
	Enabled          bool           `dynamodbav:"enabled"`
	CreatedAt        string         `dynamodbav:"created_at"`
	UpdatedAt        string         `dynamodbav:"updated_at"`
}

type alertItem struct {
	ID               string                `dynamodbav:"id"`
	RuleID           string                `dynamodbav:"rule_id"`
	RuleName         string                `dynamodbav:"rule_name"`
	EventID          string                `dynamodbav:"event_id"`
	EventKind        string                `dynamodbav:"event_kind"`
	DeviceID         string                `dynamodbav:"device_id"`
	ActionsAttempted int                   `dynamodbav:"actions_attempted"`
	ActionsSucceeded int                   `dynamodbav:"actions_succeeded"`
	Outcomes         []model.ActionOutcome `dynamodbav:"outcomes"`
	Severity         string                `dynamodbav:"severity"`
	Degraded         bool                  `dynamodbav:"degraded"`
	CreatedAt        string                `dynamodbav:"created_at"`
}

type dynamoStore struct {
	client      DynamoAPI
	rulesTable  string
	alertsTable string
}

func NewDynamo(ctx context.Context, cfg config.DynamoDBConfig) (Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewDynamoWithClient(client, cfg.RulesTable, cfg.AlertsTable), nil
}

func NewDynamoWithClient(client DynamoAPI, rulesTable, alertsTable string) Store {
	return &dynamoStore{client: client, rulesTable: rulesTable, alertsTable: alertsTable}
}

// Init is a no-op; tables are provisioned outside the service.
func (s *dynamoStore) Init(context.Context) error { return nil }
func (s *dynamoStore) Close() error               { return nil }

func toRuleItem(r model.Rule) ruleItem {
	return ruleItem{
		ID:               r.ID,
		Name:             r.Name,
		ConditionType:    string(r.Condition.Type),
		Operator:         string(r.Condition.Operator),
		ConditionValue:   r.Condition.Value,
		Sensitivity:      string(r.Sensitivity),
		NotificationType: string(r.NotificationType),
		Actions:          r.Actions,
		Enabled:          r.Enabled,
		CreatedAt:        formatTime(r.CreatedAt),
		UpdatedAt:        formatTime(r.UpdatedAt),
	}
}

func (it ruleItem) rule() model.Rule {
	return model.Rule{
		ID:   it.ID,
		Name: it.Name,
		Condition: model.Condition{
			Type:     model.ConditionType(it.ConditionType),
			Operator: model.Operator(it.Operator),
			Value:    it.ConditionValue,
		},
		Sensitivity:      model.Sensitivity(it.Sensitivity),
		NotificationType: model.NotificationType(it.NotificationType),
		Actions:          it.Actions,
		Enabled:          it.Enabled,
		CreatedAt:        parseTime(it.CreatedAt),
		UpdatedAt:        parseTime(it.UpdatedAt),
	}
}

func (s *dynamoStore) LoadRules(ctx context.Context) ([]model.Rule, error) {
	var items []ruleItem
	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{TableName: aws.String(s.rulesTable)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan rules: %w", err)
		}
		var batch []ruleItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal rules: %w", err)
		}
		items = append(items, batch...)
	}
	out := make([]model.Rule, 0, len(items))
	for _, it := range items {
		out = append(out, it.rule())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *dynamoStore) putRule(ctx context.Context, rule model.Rule, condition string, conflict error) error {
	item, err := attributevalue.MarshalMap(toRuleItem(rule))
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.rulesTable),
		Item:                item,
		ConditionExpression: aws.String(condition),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return conflict
		}
		return fmt.Errorf("put rule: %w", err)
	}
	return nil
}

func (s *dynamoStore) InsertRule(ctx context.Context, rule model.Rule) error {
	return s.putRule(ctx, rule, "attribute_not_exists(id)", model.ErrDuplicate)
}

func (s *dynamoStore) UpdateRule(ctx context.Context, rule model.Rule) error {
	return s.putRule(ctx, rule, "attribute_exists(id)", model.ErrNotFound)
}

func (s *dynamoStore) DeleteRule(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.rulesTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return model.ErrNotFound
		}
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}

func (s *dynamoStore) SaveAlerts(ctx context.Context, alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	if len(alerts) > maxTransactItems {
		return fmt.Errorf("%w: %d", errTooManyAlerts, len(alerts))
	}
	writes := make([]types.TransactWriteItem, 0, len(alerts))
	for _, a := range alerts {
		item, err := attributevalue.MarshalMap(alertItem{
			ID:               a.ID,
			RuleID:           a.RuleID,
			RuleName:         a.RuleName,
			EventID:          a.EventID,
			EventKind:        a.EventKind,
			DeviceID:         a.DeviceID,
			ActionsAttempted: a.ActionsAttempted,
			ActionsSucceeded: a.ActionsSucceeded,
			Outcomes:         a.Outcomes,
			Severity:         string(a.Severity),
			Degraded:         a.Degraded,
			CreatedAt:        formatTime(a.CreatedAt),
		})
		if err != nil {
			return fmt.Errorf("marshal alert: %w", err)
		}
		writes = append(writes, types.TransactWriteItem{
			Put: &types.Put{TableName: aws.String(s.alertsTable), Item: item},
		})
	}
	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes}); err != nil {
		return fmt.Errorf("write alerts: %w", err)
	}
	return nil
}

func (s *dynamoStore) ListAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []alertItem
	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{TableName: aws.String(s.alertsTable)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan alerts: %w", err)
		}
		var batch []alertItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal alerts: %w", err)
		}
		items = append(items, batch...)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt > items[j].CreatedAt })
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]model.Alert, 0, len(items))
	for _, it := range items {
		out = append(out, model.Alert{
			ID:               it.ID,
			RuleID:           it.RuleID,
			RuleName:         it.RuleName,
			EventID:          it.EventID,
			EventKind:        it.EventKind,
			DeviceID:         it.DeviceID,
			ActionsAttempted: it.ActionsAttempted,
			ActionsSucceeded: it.ActionsSucceeded,
			Outcomes:         it.Outcomes,
			Severity:         model.Severity(it.Severity),
			Degraded:         it.Degraded,
			Persisted:        true,
			CreatedAt:        parseTime(it.CreatedAt),
		})
	}
	return out, nil
}
