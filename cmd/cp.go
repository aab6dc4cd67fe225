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
	"time"

	log "github.com/cowdogmoo/ctxsync/pkg/logging"
	"github.com/cowdogmoo/ctxsync/pkg/transfer"
	"github.com/cowdogmoo/ctxsync/pkg/validation"
	"github.com/spf13/cobra"
)

var (
	cpWait      bool
	cpOverwrite bool
	cpTimeout   time.Duration
)

func init() {
	cpCmd.Flags().BoolVarP(&cpWait, "wait", "w", true, "wait for the session side of the transfer to settle")
	cpCmd.Flags().BoolVar(&cpOverwrite, "overwrite", false, "replace an existing local file on download")
	cpCmd.Flags().DurationVarP(&cpTimeout, "timeout", "t", 0, "maximum time to wait for the session (default 30s)")

	rootCmd.AddCommand(cpCmd)
}

var cpCmd = &cobra.Command{
	Use:   "cp SOURCE DESTINATION",
	Short: "Copy a single file to or from a session",
	Long: `Copy one file between this machine and a session through the session's
file transfer context. Exactly one side must be SESSION_ID:/path, and the
remote path must lie under the file transfer directory (/tmp/file-transfer/).

Example:
  ctxsync cp ./report.txt i-1234567890abcdef0:/tmp/file-transfer/report.txt
  ctxsync cp i-1234567890abcdef0:/tmp/file-transfer/out.csv ./out.csv --overwrite`,
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: cpArgsCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		src, dst := args[0], args[1]
		upload := validation.IsSessionPath(dst)
		if upload == validation.IsSessionPath(src) {
			return fmt.Errorf("exactly one of SOURCE and DESTINATION must be SESSION_ID:/path")
		}

		remote, local := src, dst
		if upload {
			remote, local = dst, src
			if err := validation.ValidateLocalFile(local); err != nil {
				return fmt.Errorf("invalid source path: %w", err)
			}
		}
		sessionID, remotePath, err := validation.ValidateSessionPath(remote)
		if err != nil {
			return fmt.Errorf("invalid session path: %w", err)
		}

		client, _, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		channel := client.Attach(sessionID).FileTransfer()
		opts := transfer.Options{Overwrite: cpOverwrite, Wait: cpWait, WaitTimeout: cpTimeout}

		var res *transfer.Result
		if upload {
			res = channel.UploadFile(cmd.Context(), local, remotePath, opts)
		} else {
			res = channel.DownloadFile(cmd.Context(), remotePath, local, opts)
		}
		if !res.Success {
			return fmt.Errorf("transfer failed: %w", res.Err)
		}

		if res.Waited && !res.Reconciliation.Done() {
			log.Warn("Session %s did not confirm %s: %s", sessionID, remotePath, res.Reconciliation.Outcome)
		}
		log.Info("Copied %d bytes", res.Bytes)
		return nil
	},
}
