package s3fs

import (
	"bytes"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hashicorp/go-multierror"
)

type multipartUpload struct {
	fs       *FS
	key      string
	uploadID *string
	parts    []types.CompletedPart
}

func (f *FS) startMultipart(key string) (*multipartUpload, error) {
	out, err := f.client.CreateMultipartUpload(f.ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(f.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("error creating multipart upload: %w", err)
	}
	return &multipartUpload{fs: f, key: key, uploadID: out.UploadId}, nil
}

// put uploads the next part. data is not retained after it returns.
func (u *multipartUpload) put(data []byte) error {
	number := int32(len(u.parts) + 1)
	out, err := u.fs.client.UploadPart(u.fs.ctx, &s3.UploadPartInput{
		Bucket:        aws.String(u.fs.cfg.Bucket),
		Key:           aws.String(u.key),
		UploadId:      u.uploadID,
		PartNumber:    aws.Int32(number),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("error uploading part %d: %w", number, err)
	}
	u.parts = append(u.parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(number)})
	return nil
}

func (u *multipartUpload) complete() error {
	_, err := u.fs.client.CompleteMultipartUpload(u.fs.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(u.fs.cfg.Bucket),
		Key:             aws.String(u.key),
		UploadId:        u.uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: u.parts},
	})
	if err != nil {
		return u.abort(fmt.Errorf("error completing multipart upload: %w", err))
	}
	return nil
}

// abort drops the uploaded parts and returns cause, joined with the abort failure if any.
func (u *multipartUpload) abort(cause error) error {
	_, err := u.fs.client.AbortMultipartUpload(u.fs.ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.fs.cfg.Bucket),
		Key:      aws.String(u.key),
		UploadId: u.uploadID,
	})
	if err != nil {
		return multierror.Append(cause, fmt.Errorf("error aborting multipart upload: %w", err))
	}
	return cause
}
