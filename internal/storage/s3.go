package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"

	"koffey/internal/llm"
)

const zstdEncoding = "zstd"

// S3API is the subset of the S3 client the backend calls.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Compress  bool
}

// S3 stores records in any S3-compatible bucket using path-style addressing.
type S3 struct {
	Client   S3API
	Endpoint string
	Bucket   string
	Compress bool

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewS3(cfg S3Config) (*S3, error) {
	var missing []string
	if cfg.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if cfg.AccessKey == "" {
		missing = append(missing, "access_key")
	}
	if cfg.SecretKey == "" {
		missing = append(missing, "secret_key")
	}
	if cfg.Bucket == "" {
		missing = append(missing, "bucket")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required s3 configuration: %s", strings.Join(missing, ", "))
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client := s3.New(s3.Options{
		Region:       region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	})
	return NewS3WithClient(client, cfg.Endpoint, cfg.Bucket, cfg.Compress)
}

func NewS3WithClient(client S3API, endpoint, bucket string, compress bool) (*S3, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &S3{
		Client:   client,
		Endpoint: strings.TrimRight(endpoint, "/"),
		Bucket:   bucket,
		Compress: compress,
		encoder:  enc,
		decoder:  dec,
	}, nil
}

func (s *S3) SaveConversation(ctx context.Context, rec ConversationRecord) (Response, error) {
	key, err := ConversationKey(rec.ID())
	if err != nil {
		return failed(key, err)
	}
	data, err := EncodeConversation(rec)
	if err != nil {
		return failed(key, err)
	}
	meta := map[string]string{
		"opportunityId": rec.OpportunityID,
		"customerName":  rec.CustomerName,
		"timestamp":     rec.Timestamp,
	}
	if err := s.put(ctx, key, data, meta); err != nil {
		return failed(key, fmt.Errorf("save conversation: %w", err))
	}
	return Response{Success: true, Key: key, URL: s.objectURL(key)}, nil
}

func (s *S3) GetConversation(ctx context.Context, id string) (ConversationRecord, error) {
	key, err := ConversationKey(id)
	if err != nil {
		return ConversationRecord{}, err
	}
	data, err := s.get(ctx, key)
	if err != nil {
		return ConversationRecord{}, fmt.Errorf("retrieve conversation: %w", err)
	}
	return DecodeConversation(data)
}

func (s *S3) SaveAnalysis(ctx context.Context, rec AnalysisRecord) (Response, error) {
	key, err := AnalysisKey(rec.ID())
	if err != nil {
		return failed(key, err)
	}
	data, err := EncodeAnalysis(rec)
	if err != nil {
		return failed(key, err)
	}
	meta := map[string]string{
		"opportunityId": rec.OpportunityID,
		"timestamp":     rec.Timestamp,
	}
	for _, field := range []llm.Field{llm.FieldMetrics, llm.FieldEconomicBuyer, llm.FieldDecisionCriteria, llm.FieldChampion} {
		name := "has" + strings.ToUpper(string(field[:1])) + string(field[1:])
		meta[name] = strconv.FormatBool(hasInformation(rec.Analysis, field))
	}
	if err := s.put(ctx, key, data, meta); err != nil {
		return failed(key, fmt.Errorf("save analysis: %w", err))
	}
	return Response{Success: true, Key: key, URL: s.objectURL(key)}, nil
}

func (s *S3) GetAnalysis(ctx context.Context, id string) (AnalysisRecord, error) {
	key, err := AnalysisKey(id)
	if err != nil {
		return AnalysisRecord{}, err
	}
	data, err := s.get(ctx, key)
	if err != nil {
		return AnalysisRecord{}, fmt.Errorf("retrieve analysis: %w", err)
	}
	return DecodeAnalysis(data)
}

func (s *S3) put(ctx context.Context, key string, data []byte, meta map[string]string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/json"),
		ACL:         types.ObjectCannedACLBucketOwnerFullControl,
		Metadata:    meta,
	}
	if s.Compress {
		data = s.encoder.EncodeAll(data, nil)
		input.ContentEncoding = aws.String(zstdEncoding)
	}
	input.Body = bytes.NewReader(data)
	_, err := s.Client.PutObject(ctx, input)
	return err
}

func (s *S3) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if out.Body == nil {
		return nil, ErrNotFound
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	if aws.ToString(out.ContentEncoding) == zstdEncoding {
		return s.decoder.DecodeAll(data, nil)
	}
	return data, nil
}

func (s *S3) objectURL(key string) string {
	return s.Endpoint + "/" + s.Bucket + "/" + key
}

func hasInformation(notes llm.NormalizedNotes, field llm.Field) bool {
	v, ok := notes[field]
	return ok && v != "" && v != llm.NoValidInformation
}
