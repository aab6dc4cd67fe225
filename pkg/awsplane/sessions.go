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

package awsplane

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cowdogmoo/ctxsync/pkg/contextsync"
	"github.com/cowdogmoo/ctxsync/pkg/controlplane"
	log "github.com/cowdogmoo/ctxsync/pkg/logging"
	"github.com/cowdogmoo/ctxsync/pkg/status"
	"github.com/google/uuid"
)

// poolInstances lists running instances tagged with pool, sorted by id.
func (p *Plane) poolInstances(ctx context.Context, pool string) ([]string, error) {
	var ids []string
	paginator := ec2.NewDescribeInstancesPaginator(p.ec2, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:" + PoolTagKey), Values: []string{pool}},
			{Name: aws.String("instance-state-name"), Values: []string{"running"}},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances: %w", err)
		}
		for _, r := range page.Reservations {
			for _, inst := range r.Instances {
				ids = append(ids, aws.ToString(inst.InstanceId))
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// CreateSession claims a free instance of the pool. ImageID, when set,
// selects the pool instead of the configured default.
func (p *Plane) CreateSession(ctx context.Context, req *controlplane.CreateSessionRequest) (*controlplane.CreateSessionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pool := p.cfg.PoolTag
	if req.ImageID != "" {
		pool = req.ImageID
	}

	instances, err := p.poolInstances(ctx, pool)
	if err != nil {
		return nil, err
	}

	instanceID := ""
	for _, id := range instances {
		if _, err := p.loadState(ctx, id); err != nil && errors.Is(err, ErrSessionNotFound) {
			instanceID = id
			break
		}
	}
	if instanceID == "" {
		return nil, fmt.Errorf("%w %q (%d running)", ErrNoCapacity, pool, len(instances))
	}

	log.Info("Checking if AWS CLI is installed on instance %s...", instanceID)
	ok, err := p.checkAWSCLIInstalled(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to check AWS CLI installation: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrAWSCLIMissing, instanceID)
	}

	st := &sessionState{
		SessionID: instanceID,
		Pool:      pool,
		Labels:    req.Labels,
		CreatedAt: p.now().UTC(),
		Bindings:  append([]contextsync.ContextSync(nil), req.ContextSyncs...),
	}

	for _, b := range st.Bindings {
		if err := p.applyRecyclePolicy(ctx, b); err != nil {
			log.Warn("Failed to apply recycle policy for context %s: %v", b.ContextID(), err)
		}
	}

	for _, b := range st.Bindings {
		if !b.Policy().DownloadPolicy.AutoDownload {
			continue
		}
		rec, err := p.startTask(ctx, instanceID, b, "", status.TaskDownload)
		if err != nil {
			rec.Status = "Failed"
			rec.ErrorMessage = err.Error()
			rec.FinishTime = p.now().Unix()
		}
		st.Tasks = append(st.Tasks, rec)
	}

	if err := p.saveState(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to save session %s: %w", instanceID, err)
	}

	return &controlplane.CreateSessionResponse{RequestID: uuid.NewString(), SessionID: instanceID}, nil
}

// DeleteSession uploads bindings with auto upload enabled, then releases
// the instance back to the pool. Bindings whose upload is still running are
// not uploaded again. Contexts are left in place.
func (p *Plane) DeleteSession(ctx context.Context, req *controlplane.DeleteSessionRequest) (*controlplane.OperationResponse, error) {
	resp := &controlplane.OperationResponse{RequestID: uuid.NewString()}

	p.mu.Lock()
	st, err := p.loadState(ctx, req.SessionID)
	if err != nil {
		p.mu.Unlock()
		if errors.Is(err, ErrSessionNotFound) {
			resp.ErrorMessage = err.Error()
			return resp, nil
		}
		return nil, err
	}
	if _, err := p.refreshTasks(ctx, st); err != nil {
		log.Warn("Failed to refresh tasks of %s: %v", st.SessionID, err)
	}
	var uploads []contextsync.ContextSync
	for _, b := range st.Bindings {
		if !b.Policy().UploadPolicy.AutoUpload {
			continue
		}
		if st.uploadRunning(b) {
			log.Info("Upload of context %s is already running on %s", b.ContextID(), st.SessionID)
			continue
		}
		uploads = append(uploads, b)
	}
	p.mu.Unlock()

	for _, b := range uploads {
		if _, err := p.runSSMCommand(ctx, st.SessionID, []string{p.uploadScript(b, "")}); err != nil {
			log.Warn("Upload of context %s before release of %s failed: %v", b.ContextID(), st.SessionID, err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.retry(ctx, func() error {
		_, err := p.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(p.cfg.Bucket),
			Key:    aws.String(p.stateKey(st.SessionID)),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to release session %s: %w", st.SessionID, err)
	}

	resp.Success = true
	return resp, nil
}

const lifecycleRulePrefix = "ctxsync-"

func lifecycleRuleID(contextID string, n int) string {
	return fmt.Sprintf("%s%s-%d", lifecycleRulePrefix, contextID, n)
}

// applyRecyclePolicy replaces the bucket lifecycle rules owned by the
// binding's context with one expiration rule per recycle path.
func (p *Plane) applyRecyclePolicy(ctx context.Context, b contextsync.ContextSync) error {
	recycle := b.Policy().RecyclePolicy
	days := recycle.Lifecycle().Days()
	owned := lifecycleRulePrefix + b.ContextID() + "-"

	var existing []s3types.LifecycleRule
	out, err := p.s3.GetBucketLifecycleConfiguration(ctx, &s3.GetBucketLifecycleConfigurationInput{
		Bucket: aws.String(p.cfg.Bucket),
	})
	if err != nil {
		if !strings.Contains(err.Error(), "NoSuchLifecycleConfiguration") {
			return fmt.Errorf("failed to read lifecycle configuration: %w", err)
		}
	} else {
		existing = out.Rules
	}

	rules := make([]s3types.LifecycleRule, 0, len(existing))
	removed := 0
	for _, r := range existing {
		if strings.HasPrefix(aws.ToString(r.ID), owned) {
			removed++
			continue
		}
		rules = append(rules, r)
	}

	added := 0
	if days > 0 {
		canonical := strings.TrimSuffix(b.CanonicalPath(), "/")
		for i, rp := range recycle.Paths() {
			prefix := p.contextKey(b.ContextID(), path.Join(canonical, rp)) + "/"
			rules = append(rules, s3types.LifecycleRule{
				ID:         aws.String(lifecycleRuleID(b.ContextID(), i)),
				Status:     s3types.ExpirationStatusEnabled,
				Filter:     &s3types.LifecycleRuleFilter{Prefix: aws.String(prefix)},
				Expiration: &s3types.LifecycleExpiration{Days: aws.Int32(int32(days))},
			})
			added++
		}
	}

	if removed == 0 && added == 0 {
		return nil
	}

	log.Debug("Setting %d lifecycle rules for context %s (%d days)", added, b.ContextID(), days)
	return p.retry(ctx, func() error {
		_, err := p.s3.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
			Bucket:                 aws.String(p.cfg.Bucket),
			LifecycleConfiguration: &s3types.BucketLifecycleConfiguration{Rules: rules},
		})
		return err
	})
}
