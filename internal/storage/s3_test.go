package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObject struct {
	body     []byte
	encoding string
	meta     map[string]string
	acl      types.ObjectCannedACL
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = fakeObject{
		body:     body,
		encoding: aws.ToString(in.ContentEncoding),
		meta:     in.Metadata,
		acl:      in.ACL,
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	out := &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.body))}
	if obj.encoding != "" {
		out.ContentEncoding = aws.String(obj.encoding)
	}
	return out, nil
}

func TestNewS3ReportsMissingConfig(t *testing.T) {
	_, err := NewS3(S3Config{Endpoint: "http://minio:9000", Bucket: "training"})
	if err == nil {
		t.Fatalf("expected error")
	}
	want := "missing required s3 configuration: access_key, secret_key"
	if err.Error() != want {
		t.Fatalf("got %q want %q", err.Error(), want)
	}
}

func TestS3SaveConversation(t *testing.T) {
	fake := newFakeS3()
	store, err := NewS3WithClient(fake, "http://minio:9000/", "training", false)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	conv := sampleConversation()
	resp, err := store.SaveConversation(context.Background(), conv)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	wantKey := "training-data/conversations/opp-42/" + conv.Timestamp + ".json"
	if resp.Key != wantKey {
		t.Fatalf("unexpected key %s", resp.Key)
	}
	if resp.URL != "http://minio:9000/training/"+wantKey {
		t.Fatalf("unexpected url %s", resp.URL)
	}
	obj := fake.objects["training/"+wantKey]
	if obj.acl != types.ObjectCannedACLBucketOwnerFullControl {
		t.Fatalf("unexpected acl %q", obj.acl)
	}
	if obj.meta["customerName"] != "Acme Corp" || obj.meta["opportunityId"] != "opp-42" {
		t.Fatalf("unexpected metadata %v", obj.meta)
	}

	got, err := store.GetConversation(context.Background(), conv.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Persona != conv.Persona || len(got.Conversation) != 2 {
		t.Fatalf("round trip mismatch %+v", got)
	}
}

func TestS3CompressedAnalysis(t *testing.T) {
	fake := newFakeS3()
	store, err := NewS3WithClient(fake, "http://minio:9000", "training", true)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	an := sampleAnalysis()
	resp, err := store.SaveAnalysis(context.Background(), an)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	obj := fake.objects["training/"+resp.Key]
	if obj.encoding != "zstd" {
		t.Fatalf("expected zstd encoding, got %q", obj.encoding)
	}
	if bytes.HasPrefix(obj.body, []byte("{")) {
		t.Fatalf("expected compressed body")
	}
	if obj.meta["hasMetrics"] != "true" || obj.meta["hasChampion"] != "false" {
		t.Fatalf("unexpected metadata %v", obj.meta)
	}

	got, err := store.GetAnalysis(context.Background(), an.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result != an.Result {
		t.Fatalf("unexpected result %q", got.Result)
	}
}

func TestS3NotFoundAndPutFailure(t *testing.T) {
	fake := newFakeS3()
	store, _ := NewS3WithClient(fake, "http://minio:9000", "training", false)
	if _, err := store.GetConversation(context.Background(), "opp/missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	fake.putErr = errors.New("connection refused")
	resp, err := store.SaveConversation(context.Background(), sampleConversation())
	if err == nil || resp.Success {
		t.Fatalf("expected failure, got %+v", resp)
	}
	if resp.Error == "" || resp.Key == "" {
		t.Fatalf("failure response should carry key and error: %+v", resp)
	}
}
