package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"
	"github.com/boddenberg/phase-lifecycle-go/internal/infra/storage"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

var report = domain.RunReport{
	RunID:      "run-42",
	StartedAt:  time.Date(2026, 5, 9, 3, 0, 0, 0, time.UTC),
	FinishedAt: time.Date(2026, 5, 9, 3, 0, 2, 0, time.UTC),
	Processed:  10,
	Updated:    3,
	Skipped:    6,
	Failed:     1,
}

func TestArchive_WritesJSONUnderDatedKey(t *testing.T) {
	fp := &fakePutter{}
	a := storage.NewS3Archiver(fp, "lifecycle-runs", "scheduler", zap.NewNop())

	require.NoError(t, a.Archive(context.Background(), report))

	assert.Equal(t, "lifecycle-runs", aws.ToString(fp.input.Bucket))
	assert.Equal(t, "scheduler/2026/05/09/run-42.json", aws.ToString(fp.input.Key))
	assert.Equal(t, "application/json", aws.ToString(fp.input.ContentType))

	var got domain.RunReport
	require.NoError(t, json.Unmarshal(fp.body, &got))
	assert.Equal(t, report.Updated, got.Updated)
	assert.Equal(t, report.Failed, got.Failed)
}

func TestArchive_WrapsErrors(t *testing.T) {
	a := storage.NewS3Archiver(&fakePutter{err: errors.New("access denied")}, "b", "", zap.NewNop())

	err := a.Archive(context.Background(), report)
	var ext *domain.ErrExternalService
	require.True(t, errors.As(err, &ext))
	assert.Equal(t, "s3", ext.Service)
}
