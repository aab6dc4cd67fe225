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

package completion

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cowdogmoo/ctxsync/pkg/awsplane"
)

// BucketLister is the S3 call needed to complete bucket names.
type BucketLister interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
}

// SessionLister is implemented by control planes that can enumerate
// their sessions.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]awsplane.SessionSummary, error)
}

// BucketNames returns every bucket visible to client.
func BucketNames(ctx context.Context, client BucketLister) ([]string, error) {
	result, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, err
	}

	buckets := make([]string, 0, len(result.Buckets))
	for _, bucket := range result.Buckets {
		buckets = append(buckets, aws.ToString(bucket.Name))
	}
	sort.Strings(buckets)

	return buckets, nil
}

// SessionIDs returns "id\tpool" entries for every live session.
func SessionIDs(ctx context.Context, lister SessionLister) ([]string, error) {
	sessions, err := lister.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		if s.Pool != "" {
			ids = append(ids, s.SessionID+"\t"+s.Pool)
		} else {
			ids = append(ids, s.SessionID)
		}
	}

	return ids, nil
}

// Filter keeps the candidates whose first tab-separated field starts with
// prefix.
func Filter(candidates []string, prefix string) []string {
	var matches []string
	for _, c := range candidates {
		id := strings.SplitN(c, "\t", 2)[0]
		if strings.HasPrefix(id, prefix) {
			matches = append(matches, c)
		}
	}
	return matches
}

func GetBucketNames(ctx context.Context) ([]string, error) {
	// S3 ListBuckets is global
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion("us-east-1"))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return BucketNames(ctx, s3.NewFromConfig(cfg))
}
