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
	"os/signal"
	"syscall"
	"time"

	"github.com/cowdogmoo/ctxsync/pkg/config"
	log "github.com/cowdogmoo/ctxsync/pkg/logging"
	"github.com/cowdogmoo/ctxsync/pkg/status"
	"github.com/cowdogmoo/ctxsync/pkg/validation"
	"github.com/cowdogmoo/ctxsync/pkg/watch"
	"github.com/spf13/cobra"
)

var watchInterval time.Duration

func init() {
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "i", 0, "polling interval (default watch.interval)")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch SESSION_ID DIR",
	Short: "Print file changes under a session directory",
	Long: `Poll a directory inside the session and print every create, modify and
delete event until interrupted. The first poll records a baseline.

Example:
  ctxsync watch i-1234567890abcdef0 /home/ec2-user/work --interval 5s`,
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: sessionCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validation.ValidateSessionID(args[0]); err != nil {
			return err
		}
		interval := watchInterval
		if interval <= 0 {
			interval = config.GetWatchInterval()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runWatch(ctx, cmd, args[0], args[1], interval)
	},
}

func runWatch(ctx context.Context, cmd *cobra.Command, sessionID, dir string, interval time.Duration) error {
	b, err := newBackend(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w, err := watch.New(b, sessionID, dir, interval, func(events []status.ChangeEvent) {
		for _, e := range events {
			fmt.Fprintf(out, "%-6s %-9s %s\n", e.EventType, e.PathType, e.Path)
		}
	})
	if err != nil {
		return err
	}

	if err := w.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Debug("Stopping watcher on %s", dir)
	w.Stop(5 * time.Second)
	return nil
}
