// Package dynamodb implements the import state store on AWS DynamoDB.
//
// Table layout: partition key accountId, sort key uploadId. The nested
// snapshot, options, summary and error are stored as JSON strings so the
// decimal amounts inside them round-trip exactly.
package dynamodb

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"statement-import-service/internal/models"
	"statement-import-service/internal/store"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"
)

// API is the subset of the DynamoDB client the store uses
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Config holds the configuration for the DynamoDB store
type Config struct {
	Region    string
	TableName string
	Endpoint  string
}

// Store is a DynamoDB implementation of ImportStore
type Store struct {
	client    API
	tableName string
	logger    logger.Logger
}

// recordItem is the stored shape of an ImportRecord
type recordItem struct {
	AccountID         string    `dynamodbav:"accountId"`
	UploadID          string    `dynamodbav:"uploadId"`
	UserID            string    `dynamodbav:"userId"`
	FileName          string    `dynamodbav:"fileName"`
	FileType          string    `dynamodbav:"fileType,omitempty"`
	ContentType       string    `dynamodbav:"contentType,omitempty"`
	Bucket            string    `dynamodbav:"bucket,omitempty"`
	StorageKey        string    `dynamodbav:"storageKey,omitempty"`
	Status            string    `dynamodbav:"status"`
	CreatedAt         time.Time `dynamodbav:"createdAt"`
	UpdatedAt         time.Time `dynamodbav:"updatedAt"`
	AnalysisSnapshot  string    `dynamodbav:"analysisSnapshot,omitempty"`
	ProcessingOptions string    `dynamodbav:"processingOptions,omitempty"`
	Summary           string    `dynamodbav:"summary,omitempty"`
	Error             string    `dynamodbav:"error,omitempty"`
}

// NewStore loads the default AWS configuration and creates a store
func NewStore(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			// e.g. DynamoDB Local
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewWithClient(client, cfg.TableName, log), nil
}

// NewWithClient creates a store over an existing client
func NewWithClient(client API, tableName string, log logger.Logger) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		logger:    logger.OrGlobal(log).WithComponent("dynamodb_import_store"),
	}
}

func (s *Store) keyOf(accountID, uploadID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"accountId": &types.AttributeValueMemberS{Value: accountID},
		"uploadId":  &types.AttributeValueMemberS{Value: uploadID},
	}
}

// Create implements the ImportStore interface
func (s *Store) Create(ctx context.Context, record *models.ImportRecord) error {
	if err := store.ValidateNew(record); err != nil {
		return err
	}

	item, err := toItem(record)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "encode_import_record", err)
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "marshal_import_record", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(uploadId)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if stderrors.As(err, &condErr) {
			return store.AlreadyExists(record.UploadID)
		}
		return errors.DependencyError(errors.CodeStore, "put_import_record", err)
	}

	s.logger.WithFields(logger.Fields{
		"account_id": record.AccountID,
		"upload_id":  record.UploadID,
		"status":     record.Status,
	}).Debug("Created import record")
	return nil
}

// Get implements the ImportStore interface with a strongly consistent read
func (s *Store) Get(ctx context.Context, accountID, uploadID string) (*models.ImportRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.keyOf(accountID, uploadID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.DependencyError(errors.CodeStore, "get_import_record", err)
	}
	if len(result.Item) == 0 {
		return nil, errors.NotFoundError(accountID, uploadID)
	}

	return decode(result.Item)
}

// Update implements the ImportStore interface. The status guard is a
// ConditionExpression so the check and the write are one operation.
func (s *Store) Update(ctx context.Context, accountID, uploadID string, update store.RecordUpdate) (*models.ImportRecord, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	input, err := s.buildUpdate(accountID, uploadID, update)
	if err != nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "encode_import_update", err)
	}

	result, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if stderrors.As(err, &condErr) {
			if len(condErr.Item) == 0 {
				return nil, errors.NotFoundError(accountID, uploadID)
			}
			current := ""
			if status, ok := condErr.Item["status"].(*types.AttributeValueMemberS); ok {
				current = status.Value
			}
			return nil, store.StatusConflict(uploadID, models.ImportStatus(current), update.Status)
		}
		return nil, errors.DependencyError(errors.CodeStore, "update_import_record", err)
	}

	return decode(result.Attributes)
}

func (s *Store) buildUpdate(accountID, uploadID string, update store.RecordUpdate) (*dynamodb.UpdateItemInput, error) {
	names := map[string]string{
		"#status":    "status",
		"#updatedAt": "updatedAt",
		"#uploadId":  "uploadId",
	}
	values := map[string]types.AttributeValue{
		":status":    &types.AttributeValueMemberS{Value: string(update.Status)},
		":updatedAt": &types.AttributeValueMemberS{Value: update.UpdatedAt.UTC().Format(time.RFC3339Nano)},
	}
	sets := []string{"#status = :status", "#updatedAt = :updatedAt"}
	var removes []string

	setJSON := func(attr string, v interface{}) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", attr, err)
		}
		names["#"+attr] = attr
		values[":"+attr] = &types.AttributeValueMemberS{Value: string(data)}
		sets = append(sets, fmt.Sprintf("#%s = :%s", attr, attr))
		return nil
	}

	if update.AnalysisSnapshot != nil {
		if err := setJSON("analysisSnapshot", update.AnalysisSnapshot); err != nil {
			return nil, err
		}
	}
	if update.ProcessingOptions != nil {
		if err := setJSON("processingOptions", update.ProcessingOptions); err != nil {
			return nil, err
		}
	}
	if update.Summary != nil {
		if err := setJSON("summary", update.Summary); err != nil {
			return nil, err
		}
	} else if update.ClearOutcome {
		names["#summary"] = "summary"
		removes = append(removes, "#summary")
	}
	if update.Error != nil {
		if err := setJSON("error", update.Error); err != nil {
			return nil, err
		}
	} else if update.ClearOutcome {
		names["#error"] = "error"
		removes = append(removes, "#error")
	}

	expr := "SET " + strings.Join(sets, ", ")
	if len(removes) > 0 {
		expr += " REMOVE " + strings.Join(removes, ", ")
	}

	condition := "attribute_exists(#uploadId)"
	if len(update.FromStatuses) > 0 {
		placeholders := make([]string, len(update.FromStatuses))
		for i, st := range update.FromStatuses {
			p := fmt.Sprintf(":from%d", i)
			placeholders[i] = p
			values[p] = &types.AttributeValueMemberS{Value: string(st)}
		}
		condition += " AND #status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	return &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.tableName),
		Key:                                 s.keyOf(accountID, uploadID),
		UpdateExpression:                    aws.String(expr),
		ConditionExpression:                 aws.String(condition),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}, nil
}

func toItem(record *models.ImportRecord) (*recordItem, error) {
	item := &recordItem{
		AccountID:   record.AccountID,
		UploadID:    record.UploadID,
		UserID:      record.UserID,
		FileName:    record.FileName,
		FileType:    record.FileType,
		ContentType: record.ContentType,
		Bucket:      record.Bucket,
		StorageKey:  record.StorageKey,
		Status:      string(record.Status),
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}

	encode := func(v interface{}, dst *string) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		*dst = string(data)
		return nil
	}

	if record.AnalysisSnapshot != nil {
		if err := encode(record.AnalysisSnapshot, &item.AnalysisSnapshot); err != nil {
			return nil, err
		}
	}
	if record.ProcessingOptions != nil {
		if err := encode(record.ProcessingOptions, &item.ProcessingOptions); err != nil {
			return nil, err
		}
	}
	if record.Summary != nil {
		if err := encode(record.Summary, &item.Summary); err != nil {
			return nil, err
		}
	}
	if record.Error != nil {
		if err := encode(record.Error, &item.Error); err != nil {
			return nil, err
		}
	}
	return item, nil
}

func decode(av map[string]types.AttributeValue) (*models.ImportRecord, error) {
	var item recordItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "unmarshal_import_record", err)
	}

	record := &models.ImportRecord{
		UploadID:    item.UploadID,
		AccountID:   item.AccountID,
		UserID:      item.UserID,
		FileName:    item.FileName,
		FileType:    item.FileType,
		ContentType: item.ContentType,
		Bucket:      item.Bucket,
		StorageKey:  item.StorageKey,
		Status:      models.ImportStatus(item.Status),
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}

	if item.AnalysisSnapshot != "" {
		record.AnalysisSnapshot = &models.AnalysisSnapshot{}
		if err := json.Unmarshal([]byte(item.AnalysisSnapshot), record.AnalysisSnapshot); err != nil {
			return nil, errors.InternalError(errors.CodeUnexpectedError, "decode_analysis_snapshot", err)
		}
	}
	if item.ProcessingOptions != "" {
		record.ProcessingOptions = &models.ProcessingOptions{}
		if err := json.Unmarshal([]byte(item.ProcessingOptions), record.ProcessingOptions); err != nil {
			return nil, errors.InternalError(errors.CodeUnexpectedError, "decode_processing_options", err)
		}
	}
	if item.Summary != "" {
		record.Summary = &models.ImportSummary{}
		if err := json.Unmarshal([]byte(item.Summary), record.Summary); err != nil {
			return nil, errors.InternalError(errors.CodeUnexpectedError, "decode_summary", err)
		}
	}
	if item.Error != "" {
		record.Error = &models.ImportFailure{}
		if err := json.Unmarshal([]byte(item.Error), record.Error); err != nil {
			return nil, errors.InternalError(errors.CodeUnexpectedError, "decode_error", err)
		}
	}

	return record, nil
}

// Ensure Store implements ImportStore interface.
var _ store.ImportStore = (*Store)(nil)
