package indexerlib

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/asdine/storm"
	"github.com/pkg/errors"
	"github.com/planetdecred/indexerlib/api"
	"github.com/planetdecred/indexerlib/events"
	"github.com/planetdecred/indexerlib/heightprobe"
	"github.com/planetdecred/indexerlib/installer"
	"github.com/planetdecred/indexerlib/profile"
	"github.com/planetdecred/indexerlib/progress"
	"github.com/planetdecred/indexerlib/supervisor"
	"github.com/planetdecred/indexerlib/syncstate"
	bolt "go.etcd.io/bbolt"
)

const (
	DefaultProfileID = "mainnet"

	// portReleaseDelay is how long to wait after a kill before touching the
	// indexer's files or ports.
	portReleaseDelay = 2 * time.Second

	shutdownTimeout = 10 * time.Second
	dbOpenTimeout   = 2 * time.Second
)

// Options tunes a Loader. The zero value selects production defaults.
type Options struct {
	// IndexerEndpoint is the indexer's local query endpoint.
	IndexerEndpoint string

	// ContractsURL is where the version manifest and the indexer config
	// templates are published.
	ContractsURL string

	// InstallDir is the toolchain home the indexer binary is installed
	// into. Defaults to ~/.dojo.
	InstallDir string

	// BlockNumberMethod is the JSON-RPC method used for the chain height.
	BlockNumberMethod string

	// TrayLabel receives the progress as "NN%" after every tick.
	TrayLabel func(label string)

	ProgressInterval time.Duration

	Installer installer.Installer
	Launcher  supervisor.Launcher
	Killer    supervisor.Killer
	Prober    progress.HeightProber

	// After replaces time.After for every wait and backoff.
	After func(d time.Duration) <-chan time.Time
}

// Loader supervises the indexer for one root directory and reports its sync
// progress to the registered listeners.
type Loader struct {
	rootDir  string
	configDB *storm.DB
	registry *profile.Registry
	service  *api.Service
	bus      *events.Bus
	states   *syncstate.Store

	engine     *progress.Engine
	supervisor *supervisor.Supervisor
	after      func(d time.Duration) <-chan time.Time

	mu       sync.RWMutex
	active   profile.Profile
	version  string
	started  bool
	shutdown bool

	engineDone   chan struct{}
	shuttingDown chan bool
	cancelFuncs  []context.CancelFunc
}

func NewLoader(rootDir string, opts *Options) (*Loader, error) {
	if opts == nil {
		opts = &Options{}
	}

	if err := os.MkdirAll(rootDir, 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create root directory")
	}

	if err := initLogRotator(filepath.Join(rootDir, logDirName, logFileName)); err != nil {
		return nil, err
	}

	configDB, err := storm.Open(filepath.Join(rootDir, userConfigDbFilename),
		storm.BoltOptions(0600, &bolt.Options{Timeout: dbOpenTimeout}))
	if err != nil {
		log.Errorf("Error opening config database: %s", err.Error())
		closeLogRotator()
		if err == bolt.ErrTimeout {
			// timeout error occurs if storm fails to acquire a lock on the database file
			return nil, errors.New("config database is in use by another process")
		}
		return nil, errors.Wrap(err, "error opening config database")
	}

	registry, err := profile.LoadRegistry(rootDir)
	if err != nil {
		configDB.Close()
		closeLogRotator()
		return nil, err
	}

	l := &Loader{
		rootDir:  rootDir,
		configDB: configDB,
		registry: registry,
		service:  api.NewService(opts.IndexerEndpoint, opts.ContractsURL),
		bus:      events.NewBus(),
		after:    opts.After,
	}
	if l.after == nil {
		l.after = time.After
	}

	setLogLevels(l.ReadStringConfigValueForKey(LogLevelConfigKey, defaultLogLevel))

	l.active = l.initialProfile()
	l.version = l.ReadStringConfigValueForKey(TargetVersionConfigKey, "")

	l.states = syncstate.NewStore(func(id string) string {
		if p, ok := registry.Get(id); ok {
			return p.StatePath()
		}
		return profile.Profile{ID: id}.WithRoot(rootDir).StatePath()
	})

	prober := opts.Prober
	if prober == nil {
		prober = heightprobe.New(l.service, opts.BlockNumberMethod)
	}
	l.engine = progress.New(progress.Config{
		Prober:    prober,
		Store:     l.states,
		Notifier:  l.bus,
		Profile:   l.ActiveProfile,
		Publish:   l.bus.PublishProgress,
		TrayLabel: opts.TrayLabel,
		Interval:  opts.ProgressInterval,
	})

	inst := opts.Installer
	if inst == nil {
		installDir := opts.InstallDir
		if installDir == "" {
			if installDir, err = defaultInstallDir(); err != nil {
				l.Shutdown()
				return nil, err
			}
		}
		inst = installer.NewForHost(installer.Config{
			InstallDir: installDir,
			AppDir:     rootDir,
		})
	}

	l.supervisor = supervisor.New(supervisor.Config{
		Installer:     inst,
		Launcher:      opts.Launcher,
		Killer:        opts.Killer,
		Notifier:      l.bus,
		Profile:       l.ActiveProfile,
		PrepareLaunch: l.ensureIndexerConfig,
		TargetVersion: l.TargetVersion,
		OnActive:      l.engine.SetActive,
		After:         opts.After,
	})

	l.listenForShutdown()

	ctx, cancel := l.contextWithShutdownCancel()
	l.engineDone = make(chan struct{})
	go func() {
		defer cancel()
		l.engine.Run(ctx)
		close(l.engineDone)
	}()

	log.Infof("Loader ready in %s with profile %s", rootDir, l.active.ID)
	return l, nil
}

func defaultInstallDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to locate home directory")
	}
	return filepath.Join(home, ".dojo"), nil
}

// initialProfile restores the profile selected in a previous session.
func (l *Loader) initialProfile() profile.Profile {
	id := l.ReadStringConfigValueForKey(ConfigTypeConfigKey, DefaultProfileID)
	if p, ok := l.registry.Get(id); ok {
		return p
	}

	log.Warnf("Unknown config type %q, falling back", id)
	if p, ok := l.registry.Get(DefaultProfileID); ok {
		return p
	}
	p, _ := l.registry.Get(l.registry.IDs()[0])
	return p
}

func (l *Loader) ActiveProfile() profile.Profile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// ProfileIDs lists the profiles that can be started.
func (l *Loader) ProfileIDs() []string {
	return l.registry.IDs()
}

// TargetVersion returns the indexer version installs aim for. It is empty
// until a pin is set or Start resolved the published version.
func (l *Loader) TargetVersion() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// IsRunning reports whether the indexer process is alive.
func (l *Loader) IsRunning() bool {
	return l.supervisor.IsRunning()
}

// LastProgress returns the snapshot of the last completed progress tick.
func (l *Loader) LastProgress() ProgressSnapshot {
	return l.engine.LastSnapshot()
}

// resolveVersion returns the pinned version, or fetches the version published
// in the manifest.
func (l *Loader) resolveVersion(ctx context.Context) (string, error) {
	if pinned := l.ReadStringConfigValueForKey(TargetVersionConfigKey, ""); pinned != "" {
		return pinned, nil
	}

	version, err := l.service.IndexerVersion(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to get indexer version")
	}
	log.Infof("Using indexer version: %s", version)
	return version, nil
}

// ensureIndexerConfig downloads the published config template for p when it
// has no config file yet.
func (l *Loader) ensureIndexerConfig(ctx context.Context, p profile.Profile) error {
	configPath := p.IndexerConfigPath()
	if fileExists(configPath) {
		return nil
	}

	fileName := profile.ConfigFileName(p.ID)
	log.Infof("Config file for %s not found, downloading %s", p.ID, fileName)
	data, err := l.service.IndexerConfig(ctx, fileName)
	if err != nil {
		return errors.Wrapf(err, "failed to fetch config for %s", p.ID)
	}
	return writeFileAtomic(configPath, data)
}

func (l *Loader) setActive(p profile.Profile) {
	l.SetStringConfigValueForKey(ConfigTypeConfigKey, p.ID)
	l.mu.Lock()
	l.active = p
	l.mu.Unlock()
}

// Start selects profileID and starts supervising the indexer. Only one Start
// is accepted per Loader. Later profile switches go through ChangeProfile.
func (l *Loader) Start(ctx context.Context, profileID string) error {
	p, ok := l.registry.Get(profileID)
	if !ok {
		return errors.New(ErrInvalidProfile)
	}

	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return errors.New(ErrShuttingDown)
	}
	if l.started {
		l.mu.Unlock()
		l.bus.Error("Indexer is already running")
		return errors.New(ErrAlreadyRunning)
	}
	l.started = true
	l.mu.Unlock()

	version, err := l.resolveVersion(ctx)
	if err != nil {
		l.mu.Lock()
		l.started = false
		l.mu.Unlock()
		l.bus.Error("Failed to start indexer: %v", err)
		return err
	}

	l.mu.Lock()
	l.version = version
	l.mu.Unlock()
	l.setActive(p)

	if _, err := l.engine.LoadBaseline(p.ID); err != nil {
		l.bus.Error("Failed to read sync state: %v", err)
	}

	l.bus.Info("Starting indexer (%s)", version)
	l.bus.PublishConfig(p)
	l.supervisor.Start()
	return nil
}

// Kill stops the running indexer. The supervisor relaunches it after its
// restart cooldown.
func (l *Loader) Kill() {
	l.supervisor.Stop()
	l.bus.Info("Indexer successfully killed")
}

// ResetDatabase kills the indexer and removes the active profile's indexer
// database together with its sync baseline.
func (l *Loader) ResetDatabase(ctx context.Context) error {
	l.supervisor.Stop()

	if err := l.sleep(ctx, portReleaseDelay); err != nil {
		return err
	}

	p := l.ActiveProfile()
	if err := os.RemoveAll(p.DBPath()); err != nil {
		l.bus.Error("Failed to reset database: %v", err)
		return errors.Wrapf(err, "failed to remove %s", p.DBPath())
	}
	if err := l.engine.Reset(p.ID); err != nil {
		l.bus.Error("Failed to reset database: %v", err)
		return err
	}

	log.Infof("Database of %s reset", p.ID)
	l.bus.Info("Database successfully reset")
	return nil
}

// ResetProfile removes the indexer database and sync baseline of profileID
// without killing any process or changing the selected profile. The active
// profile cannot be reset this way while its indexer runs.
func (l *Loader) ResetProfile(profileID string) error {
	p, ok := l.registry.Get(profileID)
	if !ok {
		return errors.New(ErrInvalidProfile)
	}

	active := p.ID == l.ActiveProfile().ID
	if active && l.IsRunning() {
		return errors.New(ErrAlreadyRunning)
	}

	if err := os.RemoveAll(p.DBPath()); err != nil {
		return errors.Wrapf(err, "failed to remove %s", p.DBPath())
	}
	if active {
		if err := l.engine.Reset(p.ID); err != nil {
			return err
		}
	} else if err := l.states.Save(p.ID, syncstate.SyncState{}, true); err != nil {
		return err
	}

	log.Infof("Database of %s reset", p.ID)
	return nil
}

// ChangeProfile switches to profileID and kills the running indexer, which
// is relaunched with the new profile.
func (l *Loader) ChangeProfile(ctx context.Context, profileID string) error {
	p, ok := l.registry.Get(profileID)
	if !ok {
		return errors.New(ErrInvalidProfile)
	}

	log.Infof("Changing configuration to %s", profileID)
	log.Info("Waiting 2 seconds for ports to release")
	if err := l.sleep(ctx, portReleaseDelay); err != nil {
		return err
	}

	// The old indexer keeps answering until it exits, so no tick may pair
	// its height with the new profile. The engine stays paused until the
	// supervisor reports the relaunched process.
	err := l.engine.Pause(func() error {
		l.setActive(p)
		_, err := l.engine.LoadBaseline(p.ID)
		return err
	})
	if err != nil {
		l.bus.Error("Failed to change config type: %v", err)
		return err
	}

	l.supervisor.Stop()

	l.bus.PublishConfig(p)
	l.bus.Info("Config type successfully changed")
	return nil
}

// AddListener registers listener under uniqueIdentifier and immediately
// replays the active profile and the last progress snapshot to it.
func (l *Loader) AddListener(uniqueIdentifier string, listener Listener) error {
	if err := l.bus.AddListener(uniqueIdentifier, listener); err != nil {
		return errors.New(ErrListenerAlreadyExist)
	}

	listener.OnConfigChanged(l.ActiveProfile())
	listener.OnProgress(l.engine.LastSnapshot())
	return nil
}

func (l *Loader) RemoveListener(uniqueIdentifier string) {
	l.bus.RemoveListener(uniqueIdentifier)
}

// Shutdown stops progress polling, kills the indexer, stops the lifecycle
// loop and closes every database. The Loader can not be used afterwards.
func (l *Loader) Shutdown() {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return
	}
	l.shutdown = true
	l.mu.Unlock()

	log.Info("Shutting down loader")

	if l.engine != nil {
		l.engine.SetActive(false)
	}

	if l.supervisor != nil {
		if err := l.supervisor.Shutdown(shutdownTimeout); err != nil {
			log.Errorf("lifecycle shutdown: %v", err)
		}
	}

	if l.shuttingDown != nil {
		close(l.shuttingDown)
		select {
		case <-l.engineDone:
		case <-time.After(shutdownTimeout):
			log.Error("timed out waiting for the progress loop to stop")
		}
	}

	if l.states != nil {
		if err := l.states.Close(); err != nil {
			log.Errorf("state db closed with error: %v", err)
		}
	}

	if l.configDB != nil {
		err := l.configDB.Close()
		if err != nil {
			log.Errorf("db closed with error: %v", err)
		} else {
			log.Info("db closed successfully")
		}
	}

	log.Info("Shutting down log rotator")
	closeLogRotator()
}
