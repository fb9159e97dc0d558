package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "INDEXERLIB"

func prefixEnvVar(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

func defaultRootDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "indexerlib"
	}
	return filepath.Join(dir, "indexerlib")
}

var (
	RootDirFlag = &cli.StringFlag{
		Name:    "root",
		Value:   defaultRootDir(),
		EnvVars: prefixEnvVar("ROOT"),
		Usage:   "Directory holding the config, logs, sync state and indexer databases",
	}
	ProfileFlag = &cli.StringFlag{
		Name:    "profile",
		EnvVars: prefixEnvVar("PROFILE"),
		Usage:   "Profile to run. Defaults to the last selected profile",
	}
	TargetVersionFlag = &cli.StringFlag{
		Name:    "target-version",
		EnvVars: prefixEnvVar("TARGET_VERSION"),
		Usage:   "Pin the indexer version instead of using the published one",
	}
	LogLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		EnvVars: prefixEnvVar("LOG_LEVEL"),
		Usage:   "Log level (trace, debug, info, warn, error, critical, off)",
	}
	IndexerEndpointFlag = &cli.StringFlag{
		Name:    "indexer-endpoint",
		EnvVars: prefixEnvVar("INDEXER_ENDPOINT"),
		Usage:   "Local query endpoint of the indexer",
	}
	ContractsURLFlag = &cli.StringFlag{
		Name:    "contracts-url",
		EnvVars: prefixEnvVar("CONTRACTS_URL"),
		Usage:   "Base URL of the version manifest and indexer config templates",
	}
	InstallDirFlag = &cli.StringFlag{
		Name:    "install-dir",
		EnvVars: prefixEnvVar("INSTALL_DIR"),
		Usage:   "Toolchain directory the indexer is installed into (default ~/.dojo)",
	}
)

var Flags = []cli.Flag{
	RootDirFlag,
	ProfileFlag,
	TargetVersionFlag,
	LogLevelFlag,
	IndexerEndpointFlag,
	ContractsURLFlag,
	InstallDirFlag,
}
