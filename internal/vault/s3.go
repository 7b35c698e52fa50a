package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"st-go/internal/st"
)

// uploadPartSize is the multipart chunk size for revision uploads.
const uploadPartSize = 10 * 1024 * 1024

// S3Options configures an S3Vault.
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // optional, for S3 compatible servers

	// Static credentials. When empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// S3Vault stores revisions as objects under
// <prefix>history/<escaped logical path>/<revision id>.
type S3Vault struct {
	name     string
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
	ids      *revisionIDs
}

// NewS3Vault connects to the bucket described by opts.
func NewS3Vault(ctx context.Context, name string, opts S3Options, clock st.Clock) (*S3Vault, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws configuration: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Vault(name, opts.Bucket, opts.Prefix, client, clock), nil
}

func newS3Vault(name, bucket, prefix string, client *s3.Client, clock st.Clock) *S3Vault {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Vault{
		name:   name,
		bucket: bucket,
		prefix: prefix,
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = uploadPartSize
		}),
		ids: newRevisionIDs(clock),
	}
}

func (v *S3Vault) pathPrefix(p string) string {
	return v.prefix + "history/" + escapePath(p) + "/"
}

// PutRevision uploads the content of r as a new revision of p.
func (v *S3Vault) PutRevision(p string, r io.Reader, size int64) (string, error) {
	id, _ := v.ids.next()
	counted := &countingReader{r: r}

	_, err := v.uploader.Upload(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.pathPrefix(p) + id),
		Body:   counted,
	})
	if err != nil {
		return "", fmt.Errorf("uploading revision of %q: %w", p, err)
	}
	if counted.n != size {
		return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counted.n)
	}
	return id, nil
}

// ListRevisions returns the revisions of p, oldest first.
func (v *S3Vault) ListRevisions(p string) ([]*st.Revision, error) {
	ctx := context.Background()
	prefix := v.pathPrefix(p)

	var out []*st.Revision
	pages := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(v.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing revisions of %q: %w", p, err)
		}
		for _, obj := range page.Contents {
			id := path.Base(aws.ToString(obj.Key))
			created, err := revisionTime(id)
			if err != nil {
				continue // not a revision
			}
			out = append(out, &st.Revision{ID: id, Path: p, Size: aws.ToInt64(obj.Size), CreatedAt: created})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetRevision downloads a revision and writes it to w.
func (v *S3Vault) GetRevision(p string, id string, w io.Writer) error {
	res, err := v.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.pathPrefix(p) + id),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("revision %s of %q: %w", id, p, st.ErrNotFound)
		}
		return fmt.Errorf("downloading revision %s of %q: %w", id, p, err)
	}
	defer res.Body.Close()

	if _, err := io.Copy(w, res.Body); err != nil {
		return fmt.Errorf("reading revision %s: %w", id, err)
	}
	return nil
}

// ValidateSetup checks that the bucket exists and is reachable.
func (v *S3Vault) ValidateSetup() error {
	_, err := v.client.HeadBucket(context.Background(), &s3.HeadBucketInput{Bucket: aws.String(v.bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", v.bucket, err)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ st.HistoryVault = (*S3Vault)(nil)
