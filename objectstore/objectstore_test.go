package objectstore

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func TestUri(t *testing.T) {
	s := &store{bucket: aws.String("registry-event-archive")}
	assert.Equal(t, "s3://registry-event-archive/events/abc.snappy", s.Uri("events/abc.snappy"))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(ErrNotFound))
	assert.False(t, IsTransient(&smithy.GenericAPIError{Code: "AccessDenied", Fault: smithy.FaultClient}))
	assert.True(t, IsTransient(&smithy.GenericAPIError{Code: "InternalError", Fault: smithy.FaultServer}))
	// network-level errors carry no fault classification and are retried
	assert.True(t, IsTransient(errors.New("connection reset by peer")))
}
