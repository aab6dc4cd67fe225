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

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cowdogmoo/ctxsync/pkg/awsplane"
	"github.com/cowdogmoo/ctxsync/pkg/completion"
	"github.com/cowdogmoo/ctxsync/pkg/config"
	log "github.com/cowdogmoo/ctxsync/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	listPool   string
	listRegion string
)

func init() {
	listCmd.AddCommand(listBucketsCmd)
	listCmd.AddCommand(listSessionsCmd)
	listCmd.AddCommand(listInstancesCmd)

	listInstancesCmd.Flags().StringVarP(&listPool, "pool", "p", "", "sandbox pool (defaults to aws.pool_tag)")
	listInstancesCmd.Flags().StringVarP(&listRegion, "region", "r", "", "AWS region (defaults to config or AWS_REGION)")

	rootCmd.AddCommand(listCmd)
}

// Replaced in tests.
var (
	newBucketLister = func(ctx context.Context) (completion.BucketLister, error) {
		// S3 ListBuckets is global
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion("us-east-1"))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return s3.NewFromConfig(cfg), nil
	}

	newInstanceDescriber = func(ctx context.Context, region string) (awsplane.EC2API, error) {
		var opts []func(*awsconfig.LoadOptions) error
		if region != "" {
			opts = append(opts, awsconfig.WithRegion(region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return ec2.NewFromConfig(cfg), nil
	}
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List AWS resources (buckets, sessions, instances)",
	Long: `List the resources ctxsync works with.

Available subcommands:
  buckets    - List S3 buckets
  sessions   - List live sessions recorded in the bucket
  instances  - List sandbox pool instances`,
}

var listBucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "List available S3 buckets",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newBucketLister(cmd.Context())
		if err != nil {
			return err
		}
		return listBuckets(cmd.Context(), cmd.OutOrStdout(), client)
	},
}

var listSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List live sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newBackend(cmd.Context())
		if err != nil {
			return err
		}
		return listSessions(cmd.Context(), cmd.OutOrStdout(), b)
	},
}

var listInstancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List sandbox pool instances",
	Long: `List the running EC2 instances tagged with the pool and whether a
session currently holds them.

Example:
  ctxsync list instances
  ctxsync list instances --pool gpu-sandbox --region us-west-2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pool := listPool
		if pool == "" {
			pool = config.GetPoolTag()
		}
		region := listRegion
		if region == "" {
			region = config.GetRegion()
		}

		client, err := newInstanceDescriber(cmd.Context(), region)
		if err != nil {
			return err
		}
		b, err := newBackend(cmd.Context())
		if err != nil {
			return err
		}
		return listInstances(cmd.Context(), cmd.OutOrStdout(), client, b, pool)
	},
}

func listBuckets(ctx context.Context, w io.Writer, client completion.BucketLister) error {
	log.Info("Fetching S3 buckets...")

	result, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return fmt.Errorf("failed to list buckets: %w", err)
	}

	if len(result.Buckets) == 0 {
		log.Info("No S3 buckets found")
		return nil
	}

	log.Info("Found %d S3 bucket(s):", len(result.Buckets))
	fmt.Fprintln(w, "\nBucket Name                                      Created")
	fmt.Fprintln(w, "================================================ =========================")

	for _, bucket := range result.Buckets {
		created := aws.ToTime(bucket.CreationDate).Format("2006-01-02 15:04:05 MST")
		fmt.Fprintf(w, "%-48s %s\n", aws.ToString(bucket.Name), created)
	}

	return nil
}

func listSessions(ctx context.Context, w io.Writer, lister completion.SessionLister) error {
	sessions, err := lister.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(sessions) == 0 {
		log.Info("No live sessions found")
		return nil
	}

	fmt.Fprintln(w, "\nSession ID           Pool                 Contexts Created")
	fmt.Fprintln(w, "==================== ==================== ======== =========================")
	for _, s := range sessions {
		fmt.Fprintf(w, "%-20s %-20s %-8d %s\n",
			s.SessionID, s.Pool, s.Bindings, s.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	}

	return nil
}

func listInstances(ctx context.Context, w io.Writer, client awsplane.EC2API, lister completion.SessionLister, pool string) error {
	log.Info("Fetching instances in pool: %s", pool)

	claimed := make(map[string]bool)
	sessions, err := lister.ListSessions(ctx)
	if err != nil {
		log.Warn("Failed to list sessions, claim state unknown: %v", err)
	}
	for _, s := range sessions {
		claimed[s.SessionID] = true
	}

	paginator := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:" + awsplane.PoolTagKey), Values: []string{pool}},
		},
	})

	var instanceCount, freeCount int
	fmt.Fprintln(w, "\nInstance ID          State    Type          Session  Name")
	fmt.Fprintln(w, "==================== ======== ============= ======== ================================")

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list EC2 instances: %w", err)
		}
		for _, reservation := range page.Reservations {
			for _, instance := range reservation.Instances {
				instanceCount++
				instanceID := aws.ToString(instance.InstanceId)

				state := ""
				if instance.State != nil {
					state = string(instance.State.Name)
				}

				var name string
				for _, tag := range instance.Tags {
					if aws.ToString(tag.Key) == "Name" {
						name = aws.ToString(tag.Value)
						break
					}
				}

				held := "free"
				if claimed[instanceID] {
					held = "in use"
				} else if state == "running" {
					freeCount++
				}

				fmt.Fprintf(w, "%-20s %-8s %-13s %-8s %s\n",
					instanceID, state, string(instance.InstanceType), held, name)
			}
		}
	}

	log.Info("Total: %d instances (%d free)", instanceCount, freeCount)
	return nil
}
