// Package glacier implements coldstore.Vault on Amazon S3 Glacier vaults.
package glacier

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	"github.com/aws/aws-sdk-go-v2/service/glacier/types"
	"github.com/aws/smithy-go"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/coldstore"
)

// accountID "-" selects the account of the calling credentials.
const accountID = "-"

// DefaultTier is the retrieval tier used when none is configured.
const DefaultTier = "Standard"

const jobTypeArchiveRetrieval = "archive-retrieval"

// API is the subset of the Glacier client used by Vault.
type API interface {
	UploadArchive(ctx context.Context, params *glacier.UploadArchiveInput, optFns ...func(*glacier.Options)) (*glacier.UploadArchiveOutput, error)
	InitiateJob(ctx context.Context, params *glacier.InitiateJobInput, optFns ...func(*glacier.Options)) (*glacier.InitiateJobOutput, error)
	DescribeJob(ctx context.Context, params *glacier.DescribeJobInput, optFns ...func(*glacier.Options)) (*glacier.DescribeJobOutput, error)
	GetJobOutput(ctx context.Context, params *glacier.GetJobOutputInput, optFns ...func(*glacier.Options)) (*glacier.GetJobOutputOutput, error)
	DeleteArchive(ctx context.Context, params *glacier.DeleteArchiveInput, optFns ...func(*glacier.Options)) (*glacier.DeleteArchiveOutput, error)
}

// Config configures a Glacier vault.
type Config struct {
	// Vault is the vault name (required).
	Vault string

	// Tier is the retrieval tier: Expedited, Standard or Bulk.
	Tier string
}

// Vault implements coldstore.Vault.
type Vault struct {
	client API
	name   string
	tier   string
}

var _ coldstore.Vault = (*Vault)(nil)

// New creates a vault with a client built from awsCfg.
func New(awsCfg aws.Config, cfg Config) (*Vault, error) {
	return NewWithClient(glacier.NewFromConfig(awsCfg), cfg)
}

// NewWithClient creates a vault over an existing client.
func NewWithClient(client API, cfg Config) (*Vault, error) {
	if strings.TrimSpace(cfg.Vault) == "" {
		return nil, errors.New("glacier: vault name is required")
	}
	tier := cfg.Tier
	if tier == "" {
		tier = DefaultTier
	}
	return &Vault{client: client, name: cfg.Vault, tier: tier}, nil
}

// Name returns the vault name.
func (v *Vault) Name() string { return v.name }

// UploadArchive uploads body in a single request and returns the archive id.
func (v *Vault) UploadArchive(ctx context.Context, description string, body io.ReadSeeker) (string, error) {
	out, err := v.client.UploadArchive(ctx, &glacier.UploadArchiveInput{
		AccountId:          aws.String(accountID),
		VaultName:          aws.String(v.name),
		ArchiveDescription: aws.String(description),
		Body:               body,
	})
	if err != nil {
		return "", v.wrap("UploadArchive", "", err)
	}
	return aws.ToString(out.ArchiveId), nil
}

// InitiateRetrieval starts an archive-retrieval job at the configured tier.
func (v *Vault) InitiateRetrieval(ctx context.Context, archiveID string) (string, error) {
	out, err := v.client.InitiateJob(ctx, &glacier.InitiateJobInput{
		AccountId: aws.String(accountID),
		VaultName: aws.String(v.name),
		JobParameters: &types.JobParameters{
			Type:      aws.String(jobTypeArchiveRetrieval),
			ArchiveId: aws.String(archiveID),
			Tier:      aws.String(v.tier),
		},
	})
	if err != nil {
		return "", v.wrap("InitiateRetrieval", archiveID, err)
	}
	return aws.ToString(out.JobId), nil
}

// DescribeRetrieval maps the Glacier job status onto a Retrieval.
func (v *Vault) DescribeRetrieval(ctx context.Context, retrievalID string) (*coldstore.Retrieval, error) {
	out, err := v.client.DescribeJob(ctx, &glacier.DescribeJobInput{
		AccountId: aws.String(accountID),
		VaultName: aws.String(v.name),
		JobId:     aws.String(retrievalID),
	})
	if err != nil {
		return nil, v.wrap("DescribeRetrieval", retrievalID, err)
	}

	r := &coldstore.Retrieval{
		ID:            retrievalID,
		ArchiveID:     aws.ToString(out.ArchiveId),
		StatusMessage: aws.ToString(out.StatusMessage),
	}
	switch out.StatusCode {
	case types.StatusCodeSucceeded:
		r.Status = coldstore.RetrievalSucceeded
	case types.StatusCodeFailed:
		r.Status = coldstore.RetrievalFailed
	default:
		r.Status = coldstore.RetrievalInProgress
	}
	return r, nil
}

// RetrievalOutput streams a finished job's output with the archive description.
func (v *Vault) RetrievalOutput(ctx context.Context, retrievalID string) (io.ReadCloser, string, error) {
	out, err := v.client.GetJobOutput(ctx, &glacier.GetJobOutputInput{
		AccountId: aws.String(accountID),
		VaultName: aws.String(v.name),
		JobId:     aws.String(retrievalID),
	})
	if err != nil {
		return nil, "", v.wrap("RetrievalOutput", retrievalID, err)
	}
	return out.Body, aws.ToString(out.ArchiveDescription), nil
}

// DeleteArchive removes an archive from the vault.
func (v *Vault) DeleteArchive(ctx context.Context, archiveID string) error {
	_, err := v.client.DeleteArchive(ctx, &glacier.DeleteArchiveInput{
		AccountId: aws.String(accountID),
		VaultName: aws.String(v.name),
		ArchiveId: aws.String(archiveID),
	})
	if err != nil {
		return v.wrap("DeleteArchive", archiveID, err)
	}
	return nil
}

func (v *Vault) wrap(op, id string, err error) error {
	wrapped := &coldstore.VaultError{Op: op, Vault: v.name, ID: id, Err: err}

	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		wrapped.Err = coldstore.ErrNotFound
		return wrapped
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ResourceNotFoundException":
			wrapped.Err = coldstore.ErrNotFound
		case "InvalidParameterValueException":
			// GetJobOutput on an unfinished job.
			if strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "not ready") ||
				strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "in progress") {
				wrapped.Err = coldstore.ErrNotReady
			}
		}
	}
	return wrapped
}
