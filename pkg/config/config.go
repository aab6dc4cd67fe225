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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/cowdogmoo/ctxsync/pkg/logging"
	"github.com/cowdogmoo/ctxsync/pkg/model"
	"github.com/spf13/viper"
)

var (
	GlobalConfig model.Config
	MaxRetries   = 3
	RetryDelay   = 2
)

func Init(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}

		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join(home, ".ctxsync"))
		viper.AddConfigPath("/etc/ctxsync")
	}

	setDefaults()

	viper.SetEnvPrefix("CTXSYNC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Debug("No config file found, using defaults")
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		log.Debug("Using config file: %s", viper.ConfigFileUsed())
	}

	if err := viper.Unmarshal(&GlobalConfig); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	LoadConstants()

	log.Init(GlobalConfig.Log.Format, GlobalConfig.Log.Level)

	return nil
}

func setDefaults() {
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.level", "info")

	viper.SetDefault("aws.region", "us-east-1")
	viper.SetDefault("aws.profile", "default")
	viper.SetDefault("aws.bucket", "")
	viper.SetDefault("aws.prefix", "ctxsync")
	viper.SetDefault("aws.pool_tag", "ctxsync-sandbox")

	viper.SetDefault("sync.create_retries", 150)
	viper.SetDefault("sync.create_interval", "2s")
	viper.SetDefault("sync.poll_interval", "1s")
	viper.SetDefault("sync.wait_timeout", "60s")

	viper.SetDefault("transfer.max_retries", 3)
	viper.SetDefault("transfer.retry_delay", 2)

	viper.SetDefault("watch.interval", "1s")
}

func LoadConstants() {
	MaxRetries = viper.GetInt("transfer.max_retries")
	if MaxRetries == 0 {
		MaxRetries = 3
	}

	RetryDelay = viper.GetInt("transfer.retry_delay")
	if RetryDelay == 0 {
		RetryDelay = 2
	}
}

func GetBucket() string {
	return GlobalConfig.AWS.Bucket
}

func GetRegion() string {
	return GlobalConfig.AWS.Region
}

func GetProfile() string {
	return GlobalConfig.AWS.Profile
}

func GetPrefix() string {
	return GlobalConfig.AWS.Prefix
}

func GetPoolTag() string {
	return GlobalConfig.AWS.PoolTag
}

// GetSync returns the polling settings with zero values replaced by the
// built-in defaults.
func GetSync() model.SyncConfig {
	s := GlobalConfig.Sync
	if s.CreateRetries <= 0 {
		s.CreateRetries = 150
	}
	if s.CreateInterval <= 0 {
		s.CreateInterval = 2 * time.Second
	}
	if s.PollInterval <= 0 {
		s.PollInterval = time.Second
	}
	if s.WaitTimeout <= 0 {
		s.WaitTimeout = 60 * time.Second
	}
	return s
}

func GetWatchInterval() time.Duration {
	if GlobalConfig.Watch.Interval <= 0 {
		return time.Second
	}
	return GlobalConfig.Watch.Interval
}
