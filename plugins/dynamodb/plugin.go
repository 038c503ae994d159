package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chatflow/runtime"
)

// Config holds the DynamoDB store configuration.
type Config struct {
	Table    string `yaml:"table" default:"chatflow" validate:"required"`
	Region   string `yaml:"region" default:"us-east-1"`
	Endpoint string `yaml:"endpoint" validate:"omitempty,url_format"`
	// HistoryTTL expires history items through the table's ttl attribute. Zero keeps them.
	HistoryTTL time.Duration `yaml:"history_ttl" default:"720h"`
}

const (
	skInstance  = "META"
	skActive    = "ACTIVE"
	skHistory   = "HIST#"
	skFlow      = "FLOW#"
	historyTime = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Store.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store implements runtime.InstanceStore and runtime.DefinitionStore on a
// single DynamoDB table. An ACTIVE pointer item per contact tuple keeps at
// most one instance active; instance writes are conditioned on version.
type Store struct {
	Config Config
	l      *slog.Logger
	api    dynamodbAPI
	now    func() time.Time
}

func New(l *slog.Logger, cfg Config) *Store {
	if l == nil {
		l = slog.Default()
	}
	return &Store{Config: cfg, l: l, now: time.Now}
}

// NewWithAPI builds a Store over an existing client.
func NewWithAPI(l *slog.Logger, cfg Config, api dynamodbAPI) (*Store, error) {
	if api == nil {
		return nil, errors.New("dynamodb: api must not be nil")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, errors.New("dynamodb: table name must not be empty")
	}
	s := New(l, cfg)
	s.api = api
	return s, nil
}

// Initialize implements runtime.Initializer. It builds the AWS client from
// the default credential chain unless one was injected.
func (s *Store) Initialize(ctx context.Context) error {
	if s.api != nil {
		return nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.Config.Region))
	if err != nil {
		return fmt.Errorf("dynamodb: load aws config: %w", err)
	}
	s.api = dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if s.Config.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.Config.Endpoint)
		}
	})
	s.l.InfoContext(ctx, "DynamoDB store ready", "table", s.Config.Table, "region", s.Config.Region)
	return nil
}

func instancePK(id string) string {
	return "INST#" + id
}

func contactPK(key runtime.ContactKey) string {
	return "CONTACT#" + key.TenantID + "#" + key.SessionID + "#" + key.ContactID
}

func tenantPK(tenantID string) string {
	return "TENANT#" + tenantID
}

func keyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (s *Store) getItem(ctx context.Context, pk, sk string) (map[string]types.AttributeValue, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.Config.Table),
		Key:            keyOf(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Item) == 0 {
		return nil, runtime.ErrNotFound
	}
	return out.Item, nil
}

func (s *Store) GetFlow(ctx context.Context, tenantID, flowID string) (*runtime.Flow, error) {
	item, err := s.getItem(ctx, tenantPK(tenantID), skFlow+flowID)
	if err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("dynamodb: get flow: %w", err)
	}
	return itemToFlow(item)
}

func (s *Store) ListFlows(ctx context.Context, tenantID string) ([]*runtime.Flow, error) {
	items, err := s.query(ctx, tenantPK(tenantID), skFlow)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: list flows: %w", err)
	}
	flows := make([]*runtime.Flow, 0, len(items))
	for _, item := range items {
		f, err := itemToFlow(item)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, nil
}

// PutFlow inserts or replaces a flow definition.
func (s *Store) PutFlow(ctx context.Context, f *runtime.Flow) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("dynamodb: encode flow %s: %w", f.ID, err)
	}
	item := keyOf(tenantPK(f.TenantID), skFlow+f.ID)
	item["definition"] = &types.AttributeValueMemberS{Value: string(raw)}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.Config.Table), Item: item})
	if err != nil {
		return fmt.Errorf("dynamodb: put flow %s: %w", f.ID, err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, pk, prefix string) ([]map[string]types.AttributeValue, error) {
	var (
		items []map[string]types.AttributeValue
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.Config.Table),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: pk},
				":prefix": &types.AttributeValueMemberS{Value: prefix},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		start = out.LastEvaluatedKey
	}
}

func (s *Store) GetActive(ctx context.Context, key runtime.ContactKey) (*runtime.Instance, error) {
	ptr, err := s.getItem(ctx, contactPK(key), skActive)
	if err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("dynamodb: get active pointer: %w", err)
	}
	id, err := strAttr(ptr, "instanceId")
	if err != nil {
		return nil, err
	}
	in, err := s.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if !in.Active {
		return nil, runtime.ErrNotFound
	}
	return in, nil
}

func (s *Store) GetInstance(ctx context.Context, id string) (*runtime.Instance, error) {
	item, err := s.getItem(ctx, instancePK(id), skInstance)
	if err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("dynamodb: get instance: %w", err)
	}
	return itemToInstance(item)
}

// Create writes the instance and, when it is active, claims the contact's
// ACTIVE pointer in the same transaction.
func (s *Store) Create(ctx context.Context, in *runtime.Instance) error {
	created := in.Clone()
	created.Version = 1
	item, err := instanceItem(created)
	if err != nil {
		return err
	}

	writes := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(s.Config.Table),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		},
	}}
	if in.Active {
		writes = append(writes, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.Config.Table),
				Item:                pointerItem(in.Key, in.ID),
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			},
		})
	}

	if err := s.transact(ctx, writes); err != nil {
		return fmt.Errorf("dynamodb: create instance %s: %w", in.ID, err)
	}
	in.Version = 1
	return nil
}

// StartInstance deactivates the current active instance of in.Key, writes
// in and moves the ACTIVE pointer to it in one transaction. The pointer put
// is conditioned on the instance it replaces, so a concurrent start fails
// with runtime.ErrVersionConflict and nothing is written.
func (s *Store) StartInstance(ctx context.Context, in *runtime.Instance) ([]string, error) {
	prev, err := s.GetActive(ctx, in.Key)
	if err != nil && !errors.Is(err, runtime.ErrNotFound) {
		return nil, err
	}

	created := in.Clone()
	created.Version = 1
	item, err := instanceItem(created)
	if err != nil {
		return nil, err
	}
	writes := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(s.Config.Table),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		},
	}}

	pointer := &types.Put{
		TableName:           aws.String(s.Config.Table),
		Item:                pointerItem(in.Key, in.ID),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	}
	var ids []string
	if prev != nil {
		old := prev.Clone()
		old.Active = false
		old.AwaitingInput = false
		old.UpdatedAt = s.now()
		old.Version = prev.Version + 1
		oldItem, err := instanceItem(old)
		if err != nil {
			return nil, err
		}
		writes = append(writes, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.Config.Table),
				Item:                oldItem,
				ConditionExpression: aws.String("attribute_exists(PK) AND version = :expected"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":expected": numAttr(prev.Version),
				},
			},
		})
		pointer.ConditionExpression = aws.String("instanceId = :prev")
		pointer.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberS{Value: prev.ID},
		}
		ids = append(ids, prev.ID)
	}
	if in.Active {
		writes = append(writes, types.TransactWriteItem{Put: pointer})
	} else if prev != nil {
		writes = append(writes, releasePointer(s.Config.Table, in.Key, prev.ID))
	}

	if err := s.transact(ctx, writes); err != nil {
		return nil, fmt.Errorf("dynamodb: start instance %s: %w", in.ID, err)
	}
	in.Version = 1
	return ids, nil
}

// Update replaces the instance if the stored version still equals
// in.Version. Deactivating releases the ACTIVE pointer.
func (s *Store) Update(ctx context.Context, in *runtime.Instance) error {
	next := in.Clone()
	next.Version = in.Version + 1
	item, err := instanceItem(next)
	if err != nil {
		return err
	}

	writes := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(s.Config.Table),
			Item:                item,
			ConditionExpression: aws.String("attribute_exists(PK) AND version = :expected"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":expected": numAttr(in.Version),
			},
		},
	}}
	if !in.Active {
		writes = append(writes, releasePointer(s.Config.Table, in.Key, in.ID))
	}

	if err := s.transact(ctx, writes); err != nil {
		return fmt.Errorf("dynamodb: update instance %s: %w", in.ID, err)
	}
	in.Version = next.Version
	return nil
}

func (s *Store) DeactivateActive(ctx context.Context, key runtime.ContactKey) ([]string, error) {
	in, err := s.GetActive(ctx, key)
	if errors.Is(err, runtime.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	in.Active = false
	in.AwaitingInput = false
	in.UpdatedAt = s.now()
	if err := s.Update(ctx, in); err != nil {
		return nil, err
	}
	return []string{in.ID}, nil
}

func releasePointer(table string, key runtime.ContactKey, id string) types.TransactWriteItem {
	return types.TransactWriteItem{
		Delete: &types.Delete{
			TableName:           aws.String(table),
			Key:                 keyOf(contactPK(key), skActive),
			ConditionExpression: aws.String("attribute_not_exists(PK) OR instanceId = :id"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":id": &types.AttributeValueMemberS{Value: id},
			},
		},
	}
}

// transact runs a write transaction and maps condition failures to
// runtime.ErrVersionConflict.
func (s *Store) transact(ctx context.Context, writes []types.TransactWriteItem) error {
	_, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	if err == nil {
		return nil
	}
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return runtime.ErrVersionConflict
			}
		}
	}
	var condFailed *types.ConditionalCheckFailedException
	if errors.As(err, &condFailed) {
		return runtime.ErrVersionConflict
	}
	return err
}

func (s *Store) AppendHistory(ctx context.Context, entries ...runtime.HistoryEntry) error {
	for i, e := range entries {
		item := keyOf(instancePK(e.InstanceID),
			fmt.Sprintf("%s%s#%04d", skHistory, e.Timestamp.UTC().Format(historyTime), i))
		item["nodeId"] = &types.AttributeValueMemberS{Value: e.NodeID}
		item["nodeType"] = &types.AttributeValueMemberS{Value: string(e.NodeKind)}
		item["action"] = &types.AttributeValueMemberS{Value: string(e.Action)}
		item["input"] = &types.AttributeValueMemberS{Value: e.Input}
		item["output"] = &types.AttributeValueMemberS{Value: e.Output}
		item["conditionLabel"] = &types.AttributeValueMemberS{Value: e.ConditionLabel}
		item["timestamp"] = &types.AttributeValueMemberS{Value: e.Timestamp.UTC().Format(time.RFC3339Nano)}
		if s.Config.HistoryTTL > 0 {
			item["ttl"] = numAttr(e.Timestamp.Add(s.Config.HistoryTTL).Unix())
		}

		if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.Config.Table),
			Item:      item,
		}); err != nil {
			return fmt.Errorf("dynamodb: append history: %w", err)
		}
	}
	return nil
}

func (s *Store) History(ctx context.Context, instanceID string) ([]runtime.HistoryEntry, error) {
	items, err := s.query(ctx, instancePK(instanceID), skHistory)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: history: %w", err)
	}
	out := make([]runtime.HistoryEntry, 0, len(items))
	for _, item := range items {
		e := runtime.HistoryEntry{InstanceID: instanceID}
		e.NodeID, _ = strAttr(item, "nodeId")
		kind, _ := strAttr(item, "nodeType")
		action, _ := strAttr(item, "action")
		e.NodeKind = runtime.NodeKind(kind)
		e.Action = runtime.HistoryAction(action)
		e.Input, _ = strAttr(item, "input")
		e.Output, _ = strAttr(item, "output")
		e.ConditionLabel, _ = strAttr(item, "conditionLabel")
		if ts, err := strAttr(item, "timestamp"); err == nil {
			e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		}
		out = append(out, e)
	}
	return out, nil
}

func pointerItem(key runtime.ContactKey, id string) map[string]types.AttributeValue {
	item := keyOf(contactPK(key), skActive)
	item["instanceId"] = &types.AttributeValueMemberS{Value: id}
	return item
}

func instanceItem(in *runtime.Instance) (map[string]types.AttributeValue, error) {
	vars, err := json.Marshal(in.Variables)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: encode variables: %w", err)
	}
	item := keyOf(instancePK(in.ID), skInstance)
	item["tenantId"] = &types.AttributeValueMemberS{Value: in.Key.TenantID}
	item["sessionId"] = &types.AttributeValueMemberS{Value: in.Key.SessionID}
	item["contactId"] = &types.AttributeValueMemberS{Value: in.Key.ContactID}
	item["flowId"] = &types.AttributeValueMemberS{Value: in.FlowID}
	item["currentNodeId"] = &types.AttributeValueMemberS{Value: in.CurrentNodeID}
	item["active"] = &types.AttributeValueMemberBOOL{Value: in.Active}
	item["awaitingInput"] = &types.AttributeValueMemberBOOL{Value: in.AwaitingInput}
	item["variables"] = &types.AttributeValueMemberS{Value: string(vars)}
	item["version"] = numAttr(in.Version)
	item["createdAt"] = &types.AttributeValueMemberS{Value: in.CreatedAt.UTC().Format(time.RFC3339Nano)}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: in.UpdatedAt.UTC().Format(time.RFC3339Nano)}
	return item, nil
}

func itemToInstance(item map[string]types.AttributeValue) (*runtime.Instance, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return nil, err
	}
	in := &runtime.Instance{ID: strings.TrimPrefix(pk, "INST#")}
	for attr, dst := range map[string]*string{
		"tenantId":      &in.Key.TenantID,
		"sessionId":     &in.Key.SessionID,
		"contactId":     &in.Key.ContactID,
		"flowId":        &in.FlowID,
		"currentNodeId": &in.CurrentNodeID,
	} {
		if *dst, err = strAttr(item, attr); err != nil {
			return nil, err
		}
	}
	in.Active = boolAttr(item, "active")
	in.AwaitingInput = boolAttr(item, "awaitingInput")
	if in.Version, err = int64Attr(item, "version"); err != nil {
		return nil, err
	}
	in.Variables = runtime.Variables{}
	if raw, err := strAttr(item, "variables"); err == nil && raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.Variables); err != nil {
			return nil, fmt.Errorf("dynamodb: decode variables of %s: %w", in.ID, err)
		}
	}
	if ts, err := strAttr(item, "createdAt"); err == nil {
		in.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	if ts, err := strAttr(item, "updatedAt"); err == nil {
		in.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return in, nil
}

func itemToFlow(item map[string]types.AttributeValue) (*runtime.Flow, error) {
	raw, err := strAttr(item, "definition")
	if err != nil {
		return nil, err
	}
	var f runtime.Flow
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("dynamodb: decode flow: %w", err)
	}
	return &f, nil
}

func numAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("dynamodb: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamodb: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) bool {
	b, ok := item[key].(*types.AttributeValueMemberBOOL)
	return ok && b.Value
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("dynamodb: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamodb: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("dynamodb: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
