package delivery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockUploader is a mock implementation of the Uploader interface
type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*manager.UploadOutput), args.Error(1)
}

// MockPresigner is a mock implementation of the Presigner interface
type MockPresigner struct {
	mock.Mock
}

func (m *MockPresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*v4.PresignedHTTPRequest), args.Error(1)
}

func newTestStore(uploader Uploader, presigner Presigner, bucket string) *S3Store {
	store := NewS3StoreWith(uploader, presigner, Config{Bucket: bucket, Prefix: "exports", URLExpiry: 10 * time.Minute}, zap.NewNop())
	store.now = func() time.Time { return time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC) }
	return store
}

func TestS3StorePut(t *testing.T) {
	uploader := new(MockUploader)
	presigner := new(MockPresigner)
	store := newTestStore(uploader, presigner, "report-exports")

	var key string
	uploader.On("Upload", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		body, _ := io.ReadAll(in.Body)
		key = aws.ToString(in.Key)
		return aws.ToString(in.Bucket) == "report-exports" &&
			strings.HasPrefix(key, "exports/2024/04/02/") &&
			strings.HasSuffix(key, "/queue-matrix-queue.csv") &&
			aws.ToString(in.ContentType) == "text/csv" &&
			aws.ToString(in.ContentDisposition) == `attachment; filename="queue-matrix-queue.csv"` &&
			string(body) == "a,b\n1,2\n"
	})).Return(&manager.UploadOutput{}, nil).Once()

	presigner.On("PresignGetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return aws.ToString(in.Bucket) == "report-exports" && aws.ToString(in.Key) == key
	})).Return(&v4.PresignedHTTPRequest{URL: "https://signed.example.invalid/x", Method: http.MethodGet}, nil).Once()

	stored, err := store.Put(context.Background(), "queue-matrix-queue.csv", "text/csv", []byte("a,b\n1,2\n"))
	require.NoError(t, err)

	assert.Equal(t, "report-exports", stored.Bucket)
	assert.Equal(t, key, stored.Key)
	assert.Equal(t, "queue-matrix-queue.csv", stored.FileName)
	assert.Equal(t, "https://signed.example.invalid/x", stored.URL)
	assert.Equal(t, 8, stored.Size)
	assert.Equal(t, time.Date(2024, 4, 2, 10, 10, 0, 0, time.UTC), stored.ExpiresAt)

	uploader.AssertExpectations(t)
	presigner.AssertExpectations(t)
}

func TestS3StorePutErrors(t *testing.T) {
	uploader := new(MockUploader)
	presigner := new(MockPresigner)

	_, err := newTestStore(uploader, presigner, "").Put(context.Background(), "x.csv", "text/csv", nil)
	assert.ErrorContains(t, err, "bucket")

	store := newTestStore(uploader, presigner, "b")
	uploader.On("Upload", mock.Anything, mock.Anything).Return(nil, errors.New("access denied")).Once()
	_, err = store.Put(context.Background(), "x.csv", "text/csv", []byte("x"))
	assert.ErrorContains(t, err, "access denied")
	presigner.AssertNotCalled(t, "PresignGetObject", mock.Anything, mock.Anything)

	uploader.On("Upload", mock.Anything, mock.Anything).Return(&manager.UploadOutput{}, nil).Once()
	presigner.On("PresignGetObject", mock.Anything, mock.Anything).Return(nil, errors.New("no credentials")).Once()
	_, err = store.Put(context.Background(), "x.csv", "text/csv", []byte("x"))
	assert.ErrorContains(t, err, "no credentials")
}

func TestNewS3StoreWithDefaultsExpiry(t *testing.T) {
	store := NewS3StoreWith(new(MockUploader), new(MockPresigner), Config{Bucket: "b"}, zap.NewNop())
	assert.Equal(t, 15*time.Minute, store.config.URLExpiry)
}
