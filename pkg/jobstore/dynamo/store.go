// Package dynamo implements jobstore.Store on Amazon DynamoDB.
//
// Each transition is one UpdateItem with a ConditionExpression over the prior
// state. On a failed condition the old item is requested back
// (ReturnValuesOnConditionCheckFailure = ALL_OLD) so a missing record can be
// told apart from a record in the wrong state without a second read.
package dynamo

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/job"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore"
)

const backend = "dynamodb"

// DefaultUserIndex is the global secondary index keyed by user_id.
const DefaultUserIndex = "user_id_index"

// API is the subset of the DynamoDB client used by Store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Config configures a DynamoDB job store.
type Config struct {
	// Table is the job table name (required).
	Table string

	// UserIndex is the GSI on user_id. Defaults to DefaultUserIndex.
	UserIndex string
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Table) == "" {
		return errors.New("dynamodb job store: table is required")
	}
	return nil
}

// Store implements jobstore.Store.
type Store struct {
	api       API
	table     string
	userIndex string
}

var _ jobstore.Store = (*Store)(nil)

// New creates a store over an existing client.
func New(api API, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	idx := cfg.UserIndex
	if idx == "" {
		idx = DefaultUserIndex
	}
	return &Store{api: api, table: cfg.Table, userIndex: idx}, nil
}

// NewFromConfig creates a store with a client built from awsCfg.
func NewFromConfig(awsCfg aws.Config, cfg Config) (*Store, error) {
	return New(dynamodb.NewFromConfig(awsCfg), cfg)
}

// Attribute names.
const (
	attrJobID       = "job_id"
	attrUserID      = "user_id"
	attrStatus      = "job_status"
	attrStartTime   = "start_time"
	attrAttempts    = "attempts"
	attrRequeue     = "requeue_pending"
	attrComplete    = "complete_time"
	attrResults     = "s3_results_bucket"
	attrResultKey   = "s3_key_result_file"
	attrLogKey      = "s3_key_log_file"
	attrStorage     = "storage_status"
	attrArchiveID   = "results_file_archive_id"
	attrRetrievalID = "results_file_retrieval_id"
	attrRestoreTime = "restore_time"
)

func str(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }

func num(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func (s *Store) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrJobID: str(id)}
}

// Create inserts a new record, failing if the job id exists.
func (s *Store) Create(ctx context.Context, rec *job.Record) error {
	if rec == nil || strings.TrimSpace(rec.JobID) == "" {
		return s.wrap("Create", "", errors.New("job id is required"))
	}
	cp := *rec
	if cp.Status == "" {
		cp.Status = job.StatusPending
	}
	item, err := attributevalue.MarshalMap(cp)
	if err != nil {
		return s.wrap("Create", rec.JobID, err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": attrJobID},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return s.wrap("Create", rec.JobID, jobstore.ErrConflict)
		}
		return s.wrap("Create", rec.JobID, classify(err))
	}
	return nil
}

// Get returns a record by id using a strongly consistent read.
func (s *Store) Get(ctx context.Context, id string) (*job.Record, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, s.wrap("Get", id, classify(err))
	}
	if len(out.Item) == 0 {
		return nil, s.wrap("Get", id, jobstore.ErrNotFound)
	}
	return s.decode("Get", id, out.Item)
}

// Claim moves a job to RUNNING.
func (s *Store) Claim(ctx context.Context, id string, at time.Time) (*job.Record, error) {
	out, err := s.update(ctx, "Claim", id, update{
		expr: "SET #status = :running, #start = :start ADD #attempts :one REMOVE #requeue",
		cond: "#status = :pending OR (#status = :running AND #requeue = :true)",
		names: map[string]string{
			"#status":   attrStatus,
			"#start":    attrStartTime,
			"#attempts": attrAttempts,
			"#requeue":  attrRequeue,
		},
		values: map[string]types.AttributeValue{
			":running": str(string(job.StatusRunning)),
			":pending": str(string(job.StatusPending)),
			":start":   num(at.Unix()),
			":one":     num(1),
			":true":    &types.AttributeValueMemberBOOL{Value: true},
		},
		returnNew: true,
	})
	if err != nil {
		return nil, err
	}
	return s.decode("Claim", id, out)
}

// Requeue flags a RUNNING job for another claim.
func (s *Store) Requeue(ctx context.Context, id string, startedBefore time.Time) error {
	_, err := s.update(ctx, "Requeue", id, update{
		expr: "SET #requeue = :true",
		cond: "#status = :running AND #start <= :cutoff",
		names: map[string]string{
			"#status":  attrStatus,
			"#start":   attrStartTime,
			"#requeue": attrRequeue,
		},
		values: map[string]types.AttributeValue{
			":running": str(string(job.StatusRunning)),
			":cutoff":  num(startedBefore.Unix()),
			":true":    &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	return err
}

// Complete moves a RUNNING job to COMPLETED.
func (s *Store) Complete(ctx context.Context, id string, c job.Completion) (*job.Record, error) {
	out, err := s.update(ctx, "Complete", id, update{
		expr: "SET #status = :completed, #complete = :complete, #results = :results, " +
			"#resultKey = :resultKey, #logKey = :logKey REMOVE #requeue",
		cond: "#status = :running",
		names: map[string]string{
			"#status":    attrStatus,
			"#complete":  attrComplete,
			"#results":   attrResults,
			"#resultKey": attrResultKey,
			"#logKey":    attrLogKey,
			"#requeue":   attrRequeue,
		},
		values: map[string]types.AttributeValue{
			":completed": str(string(job.StatusCompleted)),
			":running":   str(string(job.StatusRunning)),
			":complete":  num(c.CompletedAt.Unix()),
			":results":   str(c.ResultsBucket),
			":resultKey": str(c.ResultKey),
			":logKey":    str(c.LogKey),
		},
		returnNew: true,
	})
	if err != nil {
		return nil, err
	}
	return s.decode("Complete", id, out)
}

// MarkArchived records a cold copy.
func (s *Store) MarkArchived(ctx context.Context, id, archiveID string) error {
	_, err := s.update(ctx, "MarkArchived", id, update{
		expr: "SET #storage = :archived, #archive = :archive REMOVE #retrieval",
		cond: "#status = :completed AND (attribute_not_exists(#storage) OR #storage IN (:hot, :restored))",
		names: map[string]string{
			"#status":    attrStatus,
			"#storage":   attrStorage,
			"#archive":   attrArchiveID,
			"#retrieval": attrRetrievalID,
		},
		values: map[string]types.AttributeValue{
			":archived":  str(string(job.StorageArchived)),
			":archive":   str(archiveID),
			":completed": str(string(job.StatusCompleted)),
			":hot":       str(string(job.StorageHot)),
			":restored":  str(string(job.StorageRestored)),
		},
	})
	return err
}

// MarkRetrieving records an in-flight retrieval.
func (s *Store) MarkRetrieving(ctx context.Context, id, archiveID, retrievalID string) error {
	_, err := s.update(ctx, "MarkRetrieving", id, update{
		expr: "SET #storage = :retrieving, #retrieval = :retrieval",
		cond: "#storage = :archived AND #archive = :archive",
		names: map[string]string{
			"#storage":   attrStorage,
			"#archive":   attrArchiveID,
			"#retrieval": attrRetrievalID,
		},
		values: map[string]types.AttributeValue{
			":retrieving": str(string(job.StorageRetrieving)),
			":retrieval":  str(retrievalID),
			":archived":   str(string(job.StorageArchived)),
			":archive":    str(archiveID),
		},
	})
	return err
}

// MarkRestored moves a RETRIEVING job to RESTORED.
func (s *Store) MarkRestored(ctx context.Context, id string, at time.Time) error {
	_, err := s.update(ctx, "MarkRestored", id, update{
		expr: "SET #storage = :restored, #restore = :restore REMOVE #archive, #retrieval",
		cond: "#storage = :retrieving",
		names: map[string]string{
			"#storage":   attrStorage,
			"#restore":   attrRestoreTime,
			"#archive":   attrArchiveID,
			"#retrieval": attrRetrievalID,
		},
		values: map[string]types.AttributeValue{
			":restored":   str(string(job.StorageRestored)),
			":restore":    num(at.Unix()),
			":retrieving": str(string(job.StorageRetrieving)),
		},
	})
	return err
}

// ListStale scans for RUNNING jobs started before the cutoff.
func (s *Store) ListStale(ctx context.Context, startedBefore time.Time) ([]*job.Record, error) {
	p := dynamodb.NewScanPaginator(s.api, &dynamodb.ScanInput{
		TableName:        aws.String(s.table),
		FilterExpression: aws.String("#status = :running AND #start < :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#status": attrStatus,
			"#start":  attrStartTime,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":running": str(string(job.StatusRunning)),
			":cutoff":  num(startedBefore.Unix()),
		},
	})

	var out []*job.Record
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, s.wrap("ListStale", "", classify(err))
		}
		recs, err := decodeAll(page.Items)
		if err != nil {
			return nil, s.wrap("ListStale", "", err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

// ListArchived queries the user index for ARCHIVED jobs.
func (s *Store) ListArchived(ctx context.Context, userID string) ([]*job.Record, error) {
	p := dynamodb.NewQueryPaginator(s.api, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(s.userIndex),
		KeyConditionExpression: aws.String("#user = :user"),
		FilterExpression:       aws.String("#status = :completed AND #storage = :archived"),
		ExpressionAttributeNames: map[string]string{
			"#user":    attrUserID,
			"#status":  attrStatus,
			"#storage": attrStorage,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":user":      str(userID),
			":completed": str(string(job.StatusCompleted)),
			":archived":  str(string(job.StorageArchived)),
		},
	})

	var out []*job.Record
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, s.wrap("ListArchived", "", classify(err))
		}
		recs, err := decodeAll(page.Items)
		if err != nil {
			return nil, s.wrap("ListArchived", "", err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

// Close satisfies jobstore.Store. The DynamoDB client holds no resources.
func (s *Store) Close() error { return nil }

type update struct {
	expr      string
	cond      string
	names     map[string]string
	values    map[string]types.AttributeValue
	returnNew bool
}

func (s *Store) update(ctx context.Context, op, id string, u update) (map[string]types.AttributeValue, error) {
	in := &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.table),
		Key:                                 s.key(id),
		UpdateExpression:                    aws.String(u.expr),
		ConditionExpression:                 aws.String(u.cond),
		ExpressionAttributeNames:            u.names,
		ExpressionAttributeValues:           u.values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
	if u.returnNew {
		in.ReturnValues = types.ReturnValueAllNew
	}

	out, err := s.api.UpdateItem(ctx, in)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return nil, s.wrap(op, id, jobstore.ErrNotFound)
			}
			return nil, s.wrap(op, id, jobstore.ErrConflict)
		}
		return nil, s.wrap(op, id, classify(err))
	}
	return out.Attributes, nil
}

func decode(item map[string]types.AttributeValue) (*job.Record, error) {
	var rec job.Record
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// decode unmarshals a single item, wrapping failures like every other path.
func (s *Store) decode(op, id string, item map[string]types.AttributeValue) (*job.Record, error) {
	rec, err := decode(item)
	if err != nil {
		return nil, s.wrap(op, id, err)
	}
	return rec, nil
}

func decodeAll(items []map[string]types.AttributeValue) ([]*job.Record, error) {
	out := make([]*job.Record, 0, len(items))
	for _, item := range items {
		rec, err := decode(item)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// classify maps throttling and availability errors to jobstore.ErrUnavailable.
func classify(err error) error {
	var throughput *types.ProvisionedThroughputExceededException
	if errors.As(err, &throughput) {
		return errors.Join(jobstore.ErrUnavailable, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "RequestLimitExceeded", "ProvisionedThroughputExceededException",
			"ServiceUnavailable", "InternalServerError":
			return errors.Join(jobstore.ErrUnavailable, err)
		}
	}
	return err
}

func (s *Store) wrap(op, id string, err error) error {
	return &jobstore.StoreError{Op: op, Backend: backend, JobID: id, Err: err}
}
