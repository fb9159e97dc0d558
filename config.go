package indexerlib

import (
	"github.com/asdine/storm"
	"github.com/pkg/errors"
	"github.com/planetdecred/indexerlib/installer"
)

const (
	userConfigDbFilename = "config.db"
	userConfigBucketName = "user_config"

	ConfigTypeConfigKey    = "config_type"
	LogLevelConfigKey      = "log_level"
	TargetVersionConfigKey = "target_version"
)

func (l *Loader) SaveUserConfigValue(key string, value interface{}) error {
	return l.configDB.Set(userConfigBucketName, key, value)
}

func (l *Loader) ReadUserConfigValue(key string, valueOut interface{}) error {
	return l.configDB.Get(userConfigBucketName, key, valueOut)
}

func (l *Loader) DeleteUserConfigValueForKey(key string) {
	err := l.configDB.Delete(userConfigBucketName, key)
	if err != nil && err != storm.ErrNotFound {
		log.Errorf("error deleting config value: %v", err)
	}
}

func (l *Loader) SetStringConfigValueForKey(key, value string) {
	err := l.SaveUserConfigValue(key, value)
	if err != nil {
		log.Errorf("error setting config value: %v", err)
	}
}

func (l *Loader) ReadStringConfigValueForKey(key, defaultValue string) (valueOut string) {
	err := l.ReadUserConfigValue(key, &valueOut)
	if err != nil {
		if err != storm.ErrNotFound {
			log.Errorf("error reading config value: %v", err)
		}
		valueOut = defaultValue
	}
	return
}

// SetLogLevel changes the level of every subsystem logger and remembers it
// for the next start.
func (l *Loader) SetLogLevel(level string) error {
	if !validLogLevel(level) {
		return errors.New(ErrInvalid)
	}
	setLogLevels(level)
	l.SetStringConfigValueForKey(LogLevelConfigKey, level)
	return nil
}

// SetTargetVersion pins the indexer version, overriding the published
// manifest. An empty version removes the pin. The pin is used from the next
// install pass on.
func (l *Loader) SetTargetVersion(version string) error {
	if version == "" {
		l.DeleteUserConfigValueForKey(TargetVersionConfigKey)
		return nil
	}

	normalized := installer.NormalizeVersion(version)
	if normalized == "" {
		return errors.New(ErrInvalid)
	}
	l.SetStringConfigValueForKey(TargetVersionConfigKey, normalized)

	l.mu.Lock()
	l.version = normalized
	l.mu.Unlock()
	return nil
}
