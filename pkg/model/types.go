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

package model

import "time"

// AWSConfig contains AWS-specific configuration
type AWSConfig struct {
	// Region is the AWS region
	Region string `mapstructure:"region" yaml:"region"`

	// Profile is the AWS CLI profile to use
	Profile string `mapstructure:"profile" yaml:"profile"`

	// Bucket holds context objects and session state
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// Prefix is prepended to every object key written to Bucket
	Prefix string `mapstructure:"prefix" yaml:"prefix"`

	// PoolTag is the EC2 tag value identifying sandbox instances
	PoolTag string `mapstructure:"pool_tag" yaml:"pool_tag"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Format is the log format (text, json)
	Format string `mapstructure:"format" yaml:"format"`

	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level" yaml:"level"`
}

// SyncConfig controls status polling around sessions and reconciliation.
type SyncConfig struct {
	// CreateRetries is how many times session creation polls for initial
	// context status before giving up silently
	CreateRetries int `mapstructure:"create_retries" yaml:"create_retries"`

	CreateInterval time.Duration `mapstructure:"create_interval" yaml:"create_interval"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// WaitTimeout bounds WaitForCompletion when the caller gives no timeout
	WaitTimeout time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
}

// TransferDefaults contains default values for transfer operations
type TransferDefaults struct {
	// MaxRetries is the default maximum retry attempts
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// RetryDelay is the default base retry delay in seconds
	RetryDelay int `mapstructure:"retry_delay" yaml:"retry_delay"`
}

type WatchConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// Config is the root configuration structure
type Config struct {
	AWS      AWSConfig        `mapstructure:"aws" yaml:"aws"`
	Log      LogConfig        `mapstructure:"log" yaml:"log"`
	Sync     SyncConfig       `mapstructure:"sync" yaml:"sync"`
	Transfer TransferDefaults `mapstructure:"transfer" yaml:"transfer"`
	Watch    WatchConfig      `mapstructure:"watch" yaml:"watch"`
}
