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
	"fmt"
	"strings"
	"time"

	"github.com/cowdogmoo/ctxsync/pkg/contextsync"
	log "github.com/cowdogmoo/ctxsync/pkg/logging"
	"github.com/cowdogmoo/ctxsync/pkg/policy"
	"github.com/cowdogmoo/ctxsync/pkg/session"
	"github.com/cowdogmoo/ctxsync/pkg/validation"
	"github.com/spf13/cobra"
)

var (
	createPool         string
	createSyncs        []string
	createLabels       map[string]string
	createExtCtx       string
	createExtensionIDs []string

	deleteSync    bool
	deleteWait    bool
	deleteTimeout time.Duration
)

func init() {
	sessionCreateCmd.Flags().StringVarP(&createPool, "pool", "p", "", "sandbox pool to draw from (defaults to aws.pool_tag)")
	sessionCreateCmd.Flags().StringArrayVarP(&createSyncs, "sync", "s", nil,
		"bind a context as CONTEXT_ID:/session/path[:archive][:lifecycle=Lifecycle_3Days][:map=/source/path] (repeatable)")
	sessionCreateCmd.Flags().StringToStringVarP(&createLabels, "label", "l", nil, "session label as key=value (repeatable)")
	sessionCreateCmd.Flags().StringVar(&createExtCtx, "extension-context", "", "context holding browser extensions")
	sessionCreateCmd.Flags().StringSliceVar(&createExtensionIDs, "extension", nil, "extension id to load from --extension-context")

	sessionDeleteCmd.Flags().BoolVar(&deleteSync, "sync", false, "upload bound contexts before deleting")
	sessionDeleteCmd.Flags().BoolVar(&deleteWait, "wait", false, "wait for the final upload (requires --sync)")
	sessionDeleteCmd.Flags().DurationVar(&deleteTimeout, "timeout", 0, "maximum time to wait for the final upload")

	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
	rootCmd.AddCommand(sessionCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create and delete sandbox sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session with context bindings",
	Long: `Claim a sandbox from the pool and bind contexts into it. Bound contexts
are downloaded into the session asynchronously; the command waits until
their first status is reported and prints the session id.

Example:
  ctxsync session create --sync work:/home/ec2-user/work
  ctxsync session create --sync cache:/var/cache/app:archive:lifecycle=Lifecycle_3Days
  ctxsync session create --sync shared:/data:map=/home/ec2-user/work --label team=infra`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := contextsync.SessionConfig{}
		for _, spec := range createSyncs {
			cs, err := parseSyncFlag(spec)
			if err != nil {
				return err
			}
			cfg.ContextSyncs = append(cfg.ContextSyncs, cs)
		}
		if createExtCtx != "" || len(createExtensionIDs) > 0 {
			ext, err := contextsync.NewExtensionOption(createExtCtx, createExtensionIDs)
			if err != nil {
				return fmt.Errorf("invalid extension option: %w", err)
			}
			cfg.Extensions = ext
		}

		client, _, err := newClient(cmd.Context())
		if err != nil {
			return err
		}

		s, err := client.Create(cmd.Context(), session.CreateParams{
			ImageID: createPool,
			Labels:  createLabels,
			Config:  cfg,
		})
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), s.ID)
		return nil
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete SESSION_ID",
	Short: "Delete a session, optionally uploading its contexts first",
	Long: `Release a sandbox back to the pool. With --sync, every bound context is
uploaded first; with --wait the command polls until the upload settles.
An upload that is still pending or failed when the wait ends is reported
as a warning and does not stop the deletion.

Example:
  ctxsync session delete i-1234567890abcdef0 --sync --wait --timeout 2m`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: sessionCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validation.ValidateSessionID(args[0]); err != nil {
			return err
		}
		if deleteWait && !deleteSync {
			return fmt.Errorf("--wait requires --sync")
		}

		client, _, err := newClient(cmd.Context())
		if err != nil {
			return err
		}

		res, err := client.Delete(cmd.Context(), client.Attach(args[0]), session.DeleteOptions{
			SyncContext: deleteSync,
			Wait:        deleteWait,
			WaitTimeout: deleteTimeout,
		})
		if err != nil {
			return err
		}

		if res.Wait != nil && !res.Wait.Done() {
			log.Warn("Session %s deleted before its contexts were confirmed uploaded", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

// parseSyncFlag decodes CONTEXT_ID:/path followed by optional
// colon-separated modifiers.
func parseSyncFlag(spec string) (contextsync.ContextSync, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 {
		return contextsync.ContextSync{}, fmt.Errorf("invalid --sync %q, expected CONTEXT_ID:/path", spec)
	}

	pol := policy.DefaultSyncPolicy()
	for _, mod := range parts[2:] {
		key, value, _ := strings.Cut(mod, "=")
		switch key {
		case "archive":
			pol.UploadPolicy.UploadMode = policy.UploadModeArchive
		case "no-upload":
			pol.UploadPolicy.AutoUpload = false
		case "no-download":
			pol.DownloadPolicy.AutoDownload = false
		case "keep-deleted":
			pol.DeletePolicy.SyncLocalFile = false
		case "lifecycle":
			lc, err := policy.ParseLifecycle(value)
			if err != nil {
				return contextsync.ContextSync{}, err
			}
			recycle, err := policy.NewRecyclePolicy(lc, nil)
			if err != nil {
				return contextsync.ContextSync{}, err
			}
			pol.RecyclePolicy = recycle
		case "map":
			pol.MappingPolicy = &policy.MappingPolicy{Path: value}
		default:
			return contextsync.ContextSync{}, fmt.Errorf("unknown --sync modifier %q in %q", mod, spec)
		}
	}

	return contextsync.New(parts[0], parts[1], pol)
}
