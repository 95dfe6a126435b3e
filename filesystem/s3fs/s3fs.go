// Package s3fs serves an S3 bucket (or any S3 compatible store) as a filesystem.Provider.
//
// Directories are key prefixes. MakeDir leaves an empty "dir/" marker object so
// that empty directories survive; a prefix with objects under it is a directory
// whether or not the marker exists.
package s3fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/telebroad/ftpgateway/filesystem"
)

const (
	DefaultPartSize = 8 * 1024 * 1024
	MinPartSize     = 5 * 1024 * 1024
	DefaultRegion   = "us-east-1"
)

// API is the part of *s3.Client the provider uses.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var _ API = (*s3.Client)(nil)

// Config selects the bucket and how to reach it.
type Config struct {
	Bucket string
	Region string
	// Endpoint overrides the AWS endpoint, for MinIO, localstack and the like
	Endpoint string
	// KeyPrefix is prepended to every key, so the provider root is a "folder" of the bucket
	KeyPrefix      string
	ForcePathStyle bool
	// AccessKey and SecretKey are optional, the default credential chain is used without them
	AccessKey string
	SecretKey string
	// PartSize is the upload size above which Write switches to a multipart upload
	PartSize int64
}

func (c Config) partSize() int64 {
	if c.PartSize <= 0 {
		return DefaultPartSize
	}
	if c.PartSize < MinPartSize {
		return MinPartSize
	}
	return c.PartSize
}

// NewClient builds an S3 client from cfg and the environment.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}

// Factory shares one client between sessions; each session gets its own working directory.
func Factory(ctx context.Context, cfg Config) (filesystem.Factory, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return func() (filesystem.Provider, error) {
		return New(client, cfg), nil
	}, nil
}

// FS is a filesystem.Provider over one bucket.
type FS struct {
	client     API
	cfg        Config
	prefix     string
	workingDir string
	ctx        context.Context
	now        func() time.Time
}

var _ filesystem.Provider = &FS{}

func New(client API, cfg Config) *FS {
	return &FS{
		client:     client,
		cfg:        cfg,
		prefix:     strings.Trim(cfg.KeyPrefix, "/"),
		workingDir: "/",
		ctx:        context.Background(),
		now:        time.Now,
	}
}

// key maps an absolute provider path to its object key.
func (f *FS) key(p string) string {
	rel := strings.TrimPrefix(p, "/")
	if f.prefix == "" {
		return rel
	}
	if rel == "" {
		return f.prefix
	}
	return f.prefix + "/" + rel
}

// dirPrefix is the key prefix of everything inside directory p.
func (f *FS) dirPrefix(p string) string {
	k := f.key(p)
	if k == "" {
		return ""
	}
	return k + "/"
}

func (f *FS) WorkingDir() string {
	return f.workingDir
}

func (f *FS) ChangeDir(dir string) bool {
	p, err := filesystem.Resolve(f.workingDir, dir)
	if err != nil {
		return false
	}
	ok, err := f.isDir(p)
	if err != nil || !ok {
		return false
	}
	f.workingDir = p
	return true
}

func (f *FS) isDir(p string) (bool, error) {
	if p == "/" {
		return true, nil
	}
	out, err := f.client.ListObjectsV2(f.ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(f.cfg.Bucket),
		Prefix:  aws.String(f.dirPrefix(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("error listing %s: %w", p, err)
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

func (f *FS) List() (string, error) {
	prefix := f.dirPrefix(f.workingDir)
	paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(f.cfg.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	now := f.now()
	var entries []filesystem.Entry
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(f.ctx)
		if err != nil {
			return "", fmt.Errorf("error listing directory: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			entries = append(entries, filesystem.Entry{Name: name, IsDir: true, ModTime: now})
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				// the directory marker itself
				continue
			}
			entries = append(entries, filesystem.Entry{
				Name:    name,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}
	return filesystem.FormatListing(entries, now), nil
}

func (f *FS) Size(name string) (bool, string) {
	p, err := filesystem.Resolve(f.workingDir, name)
	if err != nil || p == "/" {
		return false, ""
	}
	out, err := f.head(p)
	if err != nil {
		return false, ""
	}
	return true, strconv.FormatInt(aws.ToInt64(out.ContentLength), 10)
}

func (f *FS) Read(name string) ([]byte, error) {
	p, err := filesystem.Resolve(f.workingDir, name)
	if err != nil {
		return nil, err
	}
	out, err := f.client.GetObject(f.ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.cfg.Bucket),
		Key:    aws.String(f.key(p)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%s: %w", p, filesystem.ErrNotFound)
		}
		return nil, fmt.Errorf("error getting object: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading object: %w", err)
	}
	return data, nil
}

// Write buffers the upload and sends it with one PutObject, or as a multipart
// upload once more than one part worth of data arrived.
func (f *FS) Write(name string, src filesystem.ChunkSource) error {
	p, err := filesystem.Resolve(f.workingDir, name)
	if err != nil {
		return err
	}
	if dir, err := f.isDir(p); err != nil {
		return err
	} else if dir {
		return fmt.Errorf("write %s: %w", p, filesystem.ErrIsDirectory)
	}

	key := f.key(p)
	partSize := int(f.cfg.partSize())
	var buf bytes.Buffer
	var upload *multipartUpload
	for {
		chunk, err := src()
		if err != nil {
			err = fmt.Errorf("error reading upload: %w", err)
			if upload != nil {
				return upload.abort(err)
			}
			return err
		}
		if len(chunk) == 0 {
			break
		}
		buf.Write(chunk)
		for buf.Len() >= partSize {
			if upload == nil {
				if upload, err = f.startMultipart(key); err != nil {
					return err
				}
			}
			if err := upload.put(buf.Next(partSize)); err != nil {
				return upload.abort(err)
			}
		}
	}

	if upload == nil {
		_, err = f.client.PutObject(f.ctx, &s3.PutObjectInput{
			Bucket:        aws.String(f.cfg.Bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(buf.Bytes()),
			ContentLength: aws.Int64(int64(buf.Len())),
		})
		if err != nil {
			return fmt.Errorf("error putting object: %w", err)
		}
		return nil
	}
	if buf.Len() > 0 {
		if err := upload.put(buf.Bytes()); err != nil {
			return upload.abort(err)
		}
	}
	return upload.complete()
}

func (f *FS) Rename(from, to string) error {
	src, err := filesystem.Resolve(f.workingDir, from)
	if err != nil {
		return err
	}
	dst, err := filesystem.Resolve(f.workingDir, to)
	if err != nil {
		return err
	}
	if _, err := f.head(src); err != nil {
		return fmt.Errorf("rename %s: %w", src, err)
	}
	_, err = f.client.CopyObject(f.ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(f.cfg.Bucket),
		Key:        aws.String(f.key(dst)),
		CopySource: aws.String(copySource(f.cfg.Bucket, f.key(src))),
	})
	if err != nil {
		return fmt.Errorf("error copying object: %w", err)
	}
	return f.deleteKey(f.key(src))
}

func (f *FS) Delete(name string) error {
	p, err := filesystem.Resolve(f.workingDir, name)
	if err != nil {
		return err
	}
	if _, err := f.head(p); err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return f.deleteKey(f.key(p))
}

func (f *FS) MakeDir(name string) error {
	p, err := filesystem.Resolve(f.workingDir, name)
	if err != nil {
		return err
	}
	if p == "/" {
		return nil
	}
	_, err = f.client.PutObject(f.ctx, &s3.PutObjectInput{
		Bucket:        aws.String(f.cfg.Bucket),
		Key:           aws.String(f.dirPrefix(p)),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return fmt.Errorf("error creating directory marker: %w", err)
	}
	return nil
}

func (f *FS) RemoveDir(name string) error {
	p, err := filesystem.Resolve(f.workingDir, name)
	if err != nil {
		return err
	}
	if p == "/" {
		return errors.New("refusing to remove the root directory")
	}
	marker := f.dirPrefix(p)
	out, err := f.client.ListObjectsV2(f.ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(f.cfg.Bucket),
		Prefix:  aws.String(marker),
		MaxKeys: aws.Int32(2),
	})
	if err != nil {
		return fmt.Errorf("error listing %s: %w", p, err)
	}
	if len(out.Contents) == 0 {
		return fmt.Errorf("remove %s: %w", p, filesystem.ErrNotDirectory)
	}
	for _, obj := range out.Contents {
		if aws.ToString(obj.Key) != marker {
			return fmt.Errorf("remove %s: %w", p, filesystem.ErrDirectoryNotEmpty)
		}
	}
	return f.deleteKey(marker)
}

func (f *FS) head(p string) (*s3.HeadObjectOutput, error) {
	out, err := f.client.HeadObject(f.ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.cfg.Bucket),
		Key:    aws.String(f.key(p)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, filesystem.ErrNotFound
		}
		return nil, fmt.Errorf("error getting object info: %w", err)
	}
	return out, nil
}

func (f *FS) deleteKey(key string) error {
	_, err := f.client.DeleteObject(f.ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(f.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("error deleting object: %w", err)
	}
	return nil
}

// copySource renders the x-amz-copy-source value, escaping every key segment.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

// isNotFoundError returns true if the error indicates the object doesn't exist.
func isNotFoundError(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}
