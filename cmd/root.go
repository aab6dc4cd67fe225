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
	"os"
	"strings"
	"time"

	"github.com/cowdogmoo/ctxsync/pkg/awsplane"
	"github.com/cowdogmoo/ctxsync/pkg/completion"
	"github.com/cowdogmoo/ctxsync/pkg/config"
	"github.com/cowdogmoo/ctxsync/pkg/controlplane"
	log "github.com/cowdogmoo/ctxsync/pkg/logging"
	"github.com/cowdogmoo/ctxsync/pkg/session"
	"github.com/cowdogmoo/ctxsync/pkg/validation"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	bucket  string
	verbose bool
	quiet   bool
)

// backend is the control plane the commands talk to.
type backend interface {
	controlplane.ControlPlane
	completion.SessionLister
	ListContext(ctx context.Context, contextID, dir string) ([]string, error)
}

// newBackend is replaced in tests.
var newBackend = func(ctx context.Context) (backend, error) {
	bucketName := bucket
	if bucketName == "" {
		bucketName = config.GetBucket()
	}
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name is required (use --bucket flag or set in config)")
	}
	if err := validation.ValidateBucketName(bucketName); err != nil {
		return nil, fmt.Errorf("invalid bucket name: %w", err)
	}

	plane, err := awsplane.New(ctx, awsplane.Config{
		Bucket:     bucketName,
		Prefix:     config.GetPrefix(),
		PoolTag:    config.GetPoolTag(),
		MaxRetries: config.MaxRetries,
		RetryDelay: time.Duration(config.RetryDelay) * time.Second,
	}, config.GetRegion(), config.GetProfile())
	if err != nil {
		return nil, err
	}
	return plane, nil
}

func newClient(ctx context.Context) (*session.Client, backend, error) {
	b, err := newBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	return session.NewClient(b, session.DefaultOptions()), b, nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.ctxsync/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&bucket, "bucket", "b", "", "S3 bucket holding contexts and session state")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output (debug level)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")

	if err := rootCmd.RegisterFlagCompletionFunc("bucket", bucketCompletion); err != nil {
		log.Error("Failed to register bucket completion: %v", err)
	}

	if err := viper.BindPFlag("aws.bucket", rootCmd.PersistentFlags().Lookup("bucket")); err != nil {
		log.Error("Failed to bind bucket flag: %v", err)
	}
}

func initConfig() {
	if err := config.Init(cfgFile); err != nil {
		log.Error("Failed to initialize config: %v", err)
		os.Exit(1)
	}

	if verbose {
		log.Init(config.GlobalConfig.Log.Format, "debug")
	} else if quiet {
		log.Init(config.GlobalConfig.Log.Format, "error")
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error("Command execution failed: %v", err)
		os.Exit(1)
	}
}

func RootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ctxsync",
		Short: "ctxsync keeps sandbox session data in persistent contexts",
		Long: `ctxsync binds directories inside sandbox sessions to persistent contexts
stored in S3. Data written in one session survives its teardown and is
restored into later sessions, optionally under a different path, as an
archive, or with a retention lifecycle.

Sandboxes are SSM-managed EC2 instances drawn from a tagged pool.

Example:
  ctxsync session create --sync my-ctx:/home/ec2-user/work --bucket my-bucket
  ctxsync cp ./report.txt i-1234567890abcdef0:/tmp/file-transfer/report.txt
  ctxsync context sync i-1234567890abcdef0 --wait`,
		SilenceUsage: true,
	}

	return rootCmd
}

var rootCmd = RootCmd()

func bucketCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	buckets, err := completion.GetBucketNames(cmd.Context())
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	return completion.Filter(buckets, toComplete), cobra.ShellCompDirectiveNoFileComp
}

func sessionCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := newBackend(ctx)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	sessions, err := completion.SessionIDs(ctx, b)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	return completion.Filter(sessions, toComplete), cobra.ShellCompDirectiveNoFileComp
}

// cpArgsCompletion completes "session-id:" prefixes and common remote
// directories for either side of cp.
func cpArgsCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 1 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	if id, _, ok := strings.Cut(toComplete, ":"); ok && validation.IsSessionPath(toComplete) {
		return []string{
			id + ":" + awsplane.FileTransferPath,
			id + ":/home/ec2-user/",
			id + ":/tmp/",
		}, cobra.ShellCompDirectiveNoSpace
	}

	if !strings.HasPrefix(toComplete, "i") {
		return nil, cobra.ShellCompDirectiveDefault
	}

	sessions, directive := sessionCompletion(cmd, nil, toComplete)
	if directive == cobra.ShellCompDirectiveError {
		return nil, directive
	}
	matches := make([]string, 0, len(sessions))
	for _, s := range sessions {
		matches = append(matches, strings.SplitN(s, "\t", 2)[0]+":")
	}
	return matches, cobra.ShellCompDirectiveNoSpace
}
