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
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/cowdogmoo/ctxsync/pkg/contextsync"
	log "github.com/cowdogmoo/ctxsync/pkg/logging"
	"github.com/cowdogmoo/ctxsync/pkg/policy"
	"github.com/cowdogmoo/ctxsync/pkg/status"
	"github.com/kballard/go-shellquote"
)

// ArchiveSuffix is appended to the binding directory name to form the
// archive object written in Archive upload mode.
const ArchiveSuffix = ".tar.gz"

// sendCommand starts a shell script on the instance and returns the
// command id without waiting.
func (p *Plane) sendCommand(ctx context.Context, instanceID string, commands []string) (string, error) {
	var commandID string
	err := p.retry(ctx, func() error {
		result, err := p.ssm.SendCommand(ctx, &ssm.SendCommandInput{
			InstanceIds:  []string{instanceID},
			DocumentName: aws.String("AWS-RunShellScript"),
			Parameters: map[string][]string{
				"commands": commands,
			},
		})
		if err != nil {
			return err
		}
		commandID = aws.ToString(result.Command.CommandId)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to send command: %w", err)
	}
	return commandID, nil
}

// runSSMCommand executes a command on an EC2 instance via SSM and waits for completion
func (p *Plane) runSSMCommand(ctx context.Context, instanceID string, commands []string) (string, error) {
	commandID, err := p.sendCommand(ctx, instanceID, commands)
	if err != nil {
		return "", err
	}

	for i := 0; i < p.cfg.CommandPollAttempts; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.cfg.CommandPollInterval):
		}

		invocationOutput, err := p.ssm.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
			CommandId:  aws.String(commandID),
			InstanceId: aws.String(instanceID),
		})
		if err != nil {
			continue
		}

		invStatus := invocationOutput.Status
		switch invStatus {
		case types.CommandInvocationStatusSuccess:
			return aws.ToString(invocationOutput.StandardOutputContent), nil
		case types.CommandInvocationStatusFailed,
			types.CommandInvocationStatusCancelled,
			types.CommandInvocationStatusTimedOut:
			stderr := aws.ToString(invocationOutput.StandardErrorContent)
			return "", fmt.Errorf("command failed with status %s: %s", invStatus, stderr)
		}
	}

	return "", fmt.Errorf("command timed out waiting for completion")
}

// checkAWSCLIInstalled checks if AWS CLI is installed on an EC2 instance
func (p *Plane) checkAWSCLIInstalled(ctx context.Context, instanceID string) (bool, error) {
	output, err := p.runSSMCommand(ctx, instanceID, []string{"which aws"})
	if err != nil {
		// If the command fails, AWS CLI is not installed
		if strings.Contains(err.Error(), "command failed") {
			return false, nil
		}
		return false, err
	}

	return strings.Contains(output, "/aws"), nil
}

// invocationStatus maps an SSM invocation status onto the context status
// vocabulary.
func invocationStatus(s types.CommandInvocationStatus) string {
	switch s {
	case types.CommandInvocationStatusSuccess:
		return "Success"
	case types.CommandInvocationStatusFailed:
		return "Failed"
	case types.CommandInvocationStatusCancelled, types.CommandInvocationStatusCancelling:
		return "Cancelled"
	case types.CommandInvocationStatusTimedOut:
		return "TimedOut"
	case types.CommandInvocationStatusPending, types.CommandInvocationStatusDelayed:
		return "Pending"
	default:
		return "InProgress"
	}
}

func quote(args ...string) string {
	return shellquote.Join(args...)
}

func archiveName(dir string) string {
	base := path.Base(strings.TrimSuffix(dir, "/"))
	if base == "/" || base == "." {
		base = "root"
	}
	return base + ArchiveSuffix
}

// filterArgs turns the black/white list into aws s3 sync filters. Paths
// are relative to the binding directory.
func filterArgs(pol *policy.SyncPolicy) []string {
	var args []string
	included := false
	for _, wl := range pol.BWList.WhiteLists {
		if p := strings.Trim(wl.Path, "/"); p != "" {
			if !included {
				args = append(args, "--exclude", "*")
				included = true
			}
			args = append(args, "--include", p+"/*")
		}
		for _, ex := range wl.ExcludePaths {
			if ex = strings.Trim(ex, "/"); ex != "" {
				args = append(args, "--exclude", ex+"/*")
			}
		}
	}
	return args
}

// uploadScript copies session data into the context. only narrows the
// upload to one file or directory under the binding.
func (p *Plane) uploadScript(b contextsync.ContextSync, only string) string {
	pol := b.Policy()
	dir := strings.TrimSuffix(b.Path(), "/")
	canonical := strings.TrimSuffix(b.CanonicalPath(), "/")
	ctxID := b.ContextID()

	if only != "" && strings.TrimSuffix(only, "/") != dir {
		rel := strings.TrimPrefix(only, dir)
		target := p.contextURI(ctxID, path.Join(canonical, rel))
		return fmt.Sprintf("if [ -d %s ]; then %s; else %s; fi",
			quote(only),
			quote("aws", "s3", "sync", only, target),
			quote("aws", "s3", "cp", only, target))
	}

	if pol.UploadPolicy.UploadMode == policy.UploadModeArchive {
		tmp := fmt.Sprintf("/tmp/ctxsync-%s%s", ctxID, ArchiveSuffix)
		target := p.contextURI(ctxID, path.Join(canonical, archiveName(canonical)))
		return strings.Join([]string{
			quote("tar", "-czf", tmp, "-C", dir, "."),
			quote("aws", "s3", "cp", tmp, target),
			quote("rm", "-f", tmp),
		}, " && ")
	}

	args := []string{"aws", "s3", "sync", dir, p.contextURI(ctxID, canonical)}
	if pol.DeletePolicy.SyncLocalFile {
		args = append(args, "--delete")
	}
	args = append(args, filterArgs(pol)...)
	return quote("mkdir", "-p", dir) + " && " + quote(args...)
}

// downloadScript materializes context data in the session, expanding the
// archive object when the extract policy asks for it.
func (p *Plane) downloadScript(b contextsync.ContextSync, only string) string {
	pol := b.Policy()
	dir := strings.TrimSuffix(b.Path(), "/")
	canonical := strings.TrimSuffix(b.CanonicalPath(), "/")
	ctxID := b.ContextID()

	if only != "" && strings.TrimSuffix(only, "/") != dir {
		rel := strings.TrimPrefix(only, dir)
		source := p.contextURI(ctxID, path.Join(canonical, rel))
		if strings.HasSuffix(only, "/") {
			return quote("mkdir", "-p", only) + " && " + quote("aws", "s3", "cp", source, only, "--recursive")
		}
		return quote("mkdir", "-p", path.Dir(only)) + " && " + quote("aws", "s3", "cp", source, only)
	}

	script := quote("mkdir", "-p", dir) + " && " + quote("aws", "s3", "sync", p.contextURI(ctxID, canonical), dir)
	if pol.ExtractPolicy.Extract {
		archive := path.Join(dir, archiveName(canonical))
		extract := quote("tar", "-xzf", archive, "-C", dir)
		if pol.ExtractPolicy.DeleteSrcFile {
			extract += " && " + quote("rm", "-f", archive)
		}
		script += fmt.Sprintf(" && if [ -f %s ]; then %s; fi", quote(archive), extract)
	}
	return script
}

// startTask sends the reconciliation script for one binding and returns
// the task to record.
func (p *Plane) startTask(ctx context.Context, instanceID string, b contextsync.ContextSync, only string, taskType status.TaskType) (taskRecord, error) {
	script := p.downloadScript(b, only)
	if taskType == status.TaskUpload {
		script = p.uploadScript(b, only)
	}
	log.Debug("Starting %s of context %s on %s: %s", taskType, b.ContextID(), instanceID, script)

	taskPath := b.Path()
	if only != "" {
		taskPath = only
	}
	rec := taskRecord{
		ContextID: b.ContextID(),
		Path:      taskPath,
		TaskType:  taskType,
		Status:    "Pending",
		StartTime: p.now().Unix(),
	}

	commandID, err := p.sendCommand(ctx, instanceID, []string{script})
	if err != nil {
		return rec, err
	}
	rec.CommandID = commandID
	return rec, nil
}
