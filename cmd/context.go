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
	"io"
	"time"

	log "github.com/cowdogmoo/ctxsync/pkg/logging"
	"github.com/cowdogmoo/ctxsync/pkg/session"
	"github.com/cowdogmoo/ctxsync/pkg/status"
	"github.com/cowdogmoo/ctxsync/pkg/validation"
	"github.com/spf13/cobra"
)

var (
	ctxContextID string
	ctxPath      string
	ctxMode      string
	ctxWait      bool
	ctxTimeout   time.Duration
)

func init() {
	for _, c := range []*cobra.Command{contextSyncCmd, contextInfoCmd} {
		c.Flags().StringVar(&ctxContextID, "context-id", "", "only this context")
		c.Flags().StringVar(&ctxPath, "path", "", "only bindings containing this session path")
	}
	contextSyncCmd.Flags().StringVarP(&ctxMode, "mode", "m", "", "upload or download (default: each binding's policy)")
	contextSyncCmd.Flags().BoolVarP(&ctxWait, "wait", "w", false, "wait until the started tasks settle")
	contextSyncCmd.Flags().DurationVarP(&ctxTimeout, "timeout", "t", 0, "maximum time to wait (default sync.wait_timeout)")
	contextInfoCmd.Flags().StringVar(&ctxMode, "task-type", "", "only upload or download tasks")

	contextCmd.AddCommand(contextSyncCmd)
	contextCmd.AddCommand(contextInfoCmd)
	contextCmd.AddCommand(contextLsCmd)
	rootCmd.AddCommand(contextCmd)
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Trigger and inspect context reconciliation",
}

func taskType(s string) (status.TaskType, error) {
	switch t := status.TaskType(s); t {
	case "", status.TaskUpload, status.TaskDownload:
		return t, nil
	default:
		return "", fmt.Errorf("invalid task type %q (expected %s or %s)", s, status.TaskUpload, status.TaskDownload)
	}
}

var contextSyncCmd = &cobra.Command{
	Use:   "sync SESSION_ID",
	Short: "Reconcile a session's contexts",
	Long: `Ask the control plane to reconcile bound contexts. The request returns as
soon as it is accepted; with --wait the command polls until the started
tasks finish or the timeout expires.

Example:
  ctxsync context sync i-1234567890abcdef0
  ctxsync context sync i-1234567890abcdef0 --context-id work --mode download --wait`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: sessionCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validation.ValidateSessionID(args[0]); err != nil {
			return err
		}
		mode, err := taskType(ctxMode)
		if err != nil {
			return err
		}

		client, _, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		contexts := client.Attach(args[0]).Context()
		opts := session.SyncOptions{ContextID: ctxContextID, Path: ctxPath, Mode: mode}

		if !ctxWait {
			res, err := contexts.Sync(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("sync rejected: %s", res.ErrorMessage)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sync requested (%s)\n", res.RequestID)
			return nil
		}

		res, wait, err := contexts.SyncAndWait(cmd.Context(), opts, status.WaitOptions{Timeout: ctxTimeout})
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("sync rejected: %s", res.ErrorMessage)
		}
		printEntries(cmd.OutOrStdout(), wait.Entries)
		if !wait.Done() {
			log.Warn("Context sync for %s did not complete: %s", args[0], wait.Outcome)
			return fmt.Errorf("context sync %s", wait.Outcome)
		}
		return nil
	},
}

var contextInfoCmd = &cobra.Command{
	Use:   "info SESSION_ID",
	Short: "Show reconciliation task status",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: sessionCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validation.ValidateSessionID(args[0]); err != nil {
			return err
		}
		tt, err := taskType(ctxMode)
		if err != nil {
			return err
		}

		client, _, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		info, err := client.Attach(args[0]).Context().Info(cmd.Context(), status.Filter{
			ContextID: ctxContextID,
			Path:      ctxPath,
			TaskType:  tt,
		})
		if err != nil {
			return err
		}

		if len(info.Entries) == 0 {
			log.Info("No context tasks reported for %s", args[0])
			return nil
		}
		printEntries(cmd.OutOrStdout(), info.Entries)
		return nil
	},
}

var contextLsCmd = &cobra.Command{
	Use:   "ls CONTEXT_ID [DIR]",
	Short: "List the files stored in a context",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "/"
		if len(args) == 2 {
			dir = args[1]
		}

		b, err := newBackend(cmd.Context())
		if err != nil {
			return err
		}
		files, err := b.ListContext(cmd.Context(), args[0], dir)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		return nil
	},
}

func printEntries(w io.Writer, entries []status.ContextStatusData) {
	fmt.Fprintln(w, "Context              Task     Status       Path")
	fmt.Fprintln(w, "==================== ======== ============ ================================")
	for _, e := range entries {
		line := fmt.Sprintf("%-20s %-8s %-12s %s", e.ContextID, e.TaskType, e.Status, e.Path)
		if e.ErrorMessage != "" {
			line += "  (" + e.ErrorMessage + ")"
		}
		fmt.Fprintln(w, line)
	}
}
