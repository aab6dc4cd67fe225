/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

// Package awsplane implements controlplane.ControlPlane on AWS. Sandboxes
// are SSM-managed EC2 instances drawn from a tagged pool, contexts live in
// S3, and reconciliation runs as SSM shell commands on the instance.
package awsplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/cowdogmoo/ctxsync/pkg/contextsync"
	"github.com/cowdogmoo/ctxsync/pkg/retry"
	"github.com/cowdogmoo/ctxsync/pkg/status"
)

// PoolTagKey is the EC2 tag whose value names the sandbox pool.
const PoolTagKey = "ctxsync:pool"

var (
	ErrNoCapacity      = errors.New("no free sandbox instance in pool")
	ErrSessionNotFound = errors.New("session not found")
	ErrAWSCLIMissing   = errors.New("AWS CLI is not installed on instance")
)

// S3API is the subset of the S3 client used by the plane.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetBucketLifecycleConfiguration(ctx context.Context, params *s3.GetBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLifecycleConfigurationOutput, error)
	PutBucketLifecycleConfiguration(ctx context.Context, params *s3.PutBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error)
}

type PresignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// SSMAPI is the subset of the SSM client used to run commands.
type SSMAPI interface {
	SendCommand(ctx context.Context, params *ssm.SendCommandInput, optFns ...func(*ssm.Options)) (*ssm.SendCommandOutput, error)
	GetCommandInvocation(ctx context.Context, params *ssm.GetCommandInvocationInput, optFns ...func(*ssm.Options)) (*ssm.GetCommandInvocationOutput, error)
}

type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

type Config struct {
	Bucket  string
	Prefix  string
	PoolTag string

	MaxRetries int
	RetryDelay time.Duration

	// CommandPollInterval and CommandPollAttempts bound blocking SSM
	// commands such as the CLI check and directory snapshots.
	CommandPollInterval time.Duration
	CommandPollAttempts int

	PresignExpiry time.Duration
}

func (c *Config) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = "ctxsync"
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.CommandPollInterval <= 0 {
		c.CommandPollInterval = 2 * time.Second
	}
	if c.CommandPollAttempts <= 0 {
		c.CommandPollAttempts = 30
	}
	if c.PresignExpiry <= 0 {
		c.PresignExpiry = 15 * time.Minute
	}
}

type Plane struct {
	s3      S3API
	presign PresignAPI
	ssm     SSMAPI
	ec2     EC2API
	cfg     Config
	now     func() time.Time

	// mu serializes read-modify-write cycles on session state.
	mu sync.Mutex
}

// New builds a plane from the default AWS credential chain.
func New(ctx context.Context, cfg Config, region, profile string) (*Plane, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" && profile != "default" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg)
	return NewWithClients(s3Client, s3.NewPresignClient(s3Client), ssm.NewFromConfig(awsCfg), ec2.NewFromConfig(awsCfg), cfg), nil
}

func NewWithClients(s3Client S3API, presign PresignAPI, ssmClient SSMAPI, ec2Client EC2API, cfg Config) *Plane {
	cfg.setDefaults()
	return &Plane{
		s3:      s3Client,
		presign: presign,
		ssm:     ssmClient,
		ec2:     ec2Client,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (p *Plane) retry(ctx context.Context, op func() error) error {
	return retry.Do(ctx, op, p.cfg.MaxRetries, p.cfg.RetryDelay)
}

// contextKey is the object key of filePath inside a context.
func (p *Plane) contextKey(contextID, filePath string) string {
	return path.Join(p.cfg.Prefix, "contexts", contextID, filePath)
}

func (p *Plane) contextURI(contextID, filePath string) string {
	return fmt.Sprintf("s3://%s/%s", p.cfg.Bucket, p.contextKey(contextID, filePath))
}

func (p *Plane) stateKey(sessionID string) string {
	return path.Join(p.cfg.Prefix, "sessions", sessionID+".json")
}

// taskRecord tracks one reconciliation command.
type taskRecord struct {
	CommandID    string          `json:"commandId"`
	ContextID    string          `json:"contextId"`
	Path         string          `json:"path"`
	TaskType     status.TaskType `json:"taskType"`
	Status       string          `json:"status"`
	StartTime    int64           `json:"startTime"`
	FinishTime   int64           `json:"finishTime,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

func (t taskRecord) entry() status.ContextStatusData {
	return status.ContextStatusData{
		ContextID:    t.ContextID,
		Path:         t.Path,
		Status:       t.Status,
		TaskType:     t.TaskType,
		StartTime:    t.StartTime,
		FinishTime:   t.FinishTime,
		ErrorMessage: t.ErrorMessage,
	}
}

// sessionState is persisted at sessions/<id>.json. The session id is the
// instance id.
type sessionState struct {
	SessionID string                    `json:"sessionId"`
	Pool      string                    `json:"pool"`
	Labels    map[string]string         `json:"labels,omitempty"`
	CreatedAt time.Time                 `json:"createdAt"`
	Bindings  []contextsync.ContextSync `json:"bindings"`
	Tasks     []taskRecord              `json:"tasks"`

	// Snapshots maps a watched directory to its last listing.
	Snapshots map[string]map[string]string `json:"snapshots,omitempty"`
}

func (s *sessionState) binding(contextID string) (contextsync.ContextSync, bool) {
	for _, b := range s.Bindings {
		if b.ContextID() == contextID {
			return b, true
		}
	}
	return contextsync.ContextSync{}, false
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound")
}

func (p *Plane) loadState(ctx context.Context, sessionID string) (*sessionState, error) {
	var body []byte
	err := p.retry(ctx, func() error {
		out, err := p.s3.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(p.cfg.Bucket),
			Key:    aws.String(p.stateKey(sessionID)),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()
		body, err = io.ReadAll(out.Body)
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	var st sessionState
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &st, nil
}

func (p *Plane) saveState(ctx context.Context, st *sessionState) error {
	body, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return p.retry(ctx, func() error {
		_, err := p.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.cfg.Bucket),
			Key:         aws.String(p.stateKey(st.SessionID)),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/json"),
		})
		return err
	})
}

// SessionSummary is a row of ListSessions.
type SessionSummary struct {
	SessionID string
	Pool      string
	CreatedAt time.Time
	Bindings  int
}

// ListSessions returns every session with persisted state.
func (p *Plane) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	prefix := path.Join(p.cfg.Prefix, "sessions") + "/"
	var out []SessionSummary

	paginator := s3.NewListObjectsV2Paginator(p.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		for _, obj := range page.Contents {
			id := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(obj.Key), prefix), ".json")
			st, err := p.loadState(ctx, id)
			if err != nil {
				continue
			}
			out = append(out, SessionSummary{
				SessionID: st.SessionID,
				Pool:      st.Pool,
				CreatedAt: st.CreatedAt,
				Bindings:  len(st.Bindings),
			})
		}
	}
	return out, nil
}

// ListContext returns the object paths stored for contextID under dir.
func (p *Plane) ListContext(ctx context.Context, contextID, dir string) ([]string, error) {
	root := p.contextKey(contextID, "/")
	var out []string

	paginator := s3.NewListObjectsV2Paginator(p.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.cfg.Bucket),
		Prefix: aws.String(p.contextKey(contextID, dir)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list context %s: %w", contextID, err)
		}
		for _, obj := range page.Contents {
			out = append(out, "/"+strings.TrimPrefix(aws.ToString(obj.Key), root+"/"))
		}
	}
	return out, nil
}
