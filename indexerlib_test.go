package indexerlib_test

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	. "github.com/planetdecred/indexerlib"
	"github.com/planetdecred/indexerlib/profile"
	"github.com/planetdecred/indexerlib/syncstate"
)

const indexerConfig = "world_address = \"0x1\"\n"

var _ = Describe("Loader", func() {
	var (
		rootDir  string
		server   *httptest.Server
		manifest atomic.Value

		inst     *fakeInstaller
		launcher *fakeLauncher
		prober   *fakeProber
		tray     *trayLabels
		opts     *Options
		loader   *Loader
		events   *listener
		ctx      context.Context
	)

	newLoader := func() *Loader {
		l, err := NewLoader(rootDir, opts)
		Expect(err).NotTo(HaveOccurred())
		return l
	}

	BeforeEach(func() {
		var err error
		rootDir, err = ioutil.TempDir("", "indexerlib")
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()

		manifest.Store("scarb 2.9.2\nsozo 1.5.0\ntorii 1.5.0\n")
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/.tool-versions":
				body := manifest.Load().(string)
				if body == "" {
					http.NotFound(w, r)
					return
				}
				w.Write([]byte(body))
			case "/torii-mainnet-game.toml", "/torii-sepolia.toml":
				w.Write([]byte(indexerConfig))
			default:
				http.NotFound(w, r)
			}
		}))

		binaryPath := filepath.Join(rootDir, "dojo", "bin", "torii")
		Expect(os.MkdirAll(filepath.Dir(binaryPath), 0700)).To(Succeed())
		Expect(ioutil.WriteFile(binaryPath, nil, 0700)).To(Succeed())

		inst = &fakeInstaller{binaryPath: binaryPath}
		launcher = &fakeLauncher{}
		prober = &fakeProber{}
		prober.set(150, 200)
		tray = &trayLabels{}

		opts = &Options{
			ContractsURL:     server.URL,
			TrayLabel:        tray.set,
			ProgressInterval: 10 * time.Millisecond,
			Installer:        inst,
			Launcher:         launcher,
			Killer:           nopKiller{},
			Prober:           prober,
			After:            immediately,
		}
		loader = newLoader()

		events = &listener{}
		Expect(loader.AddListener("test", events)).To(Succeed())
	})

	AfterEach(func() {
		loader.Shutdown()
		server.Close()
		os.RemoveAll(rootDir)
	})

	Context("listeners", func() {
		It("replays the active profile and the last snapshot", func() {
			Expect(events.Profiles()).To(Equal([]string{DefaultProfileID}))
			Expect(events.LastSnapshot()).To(Equal(ProgressSnapshot{}))
		})

		It("rejects a duplicate id", func() {
			err := loader.AddListener("test", &listener{})
			Expect(err).To(MatchError(ErrListenerAlreadyExist))
		})

		It("stops notifying removed listeners", func() {
			loader.RemoveListener("test")
			loader.Kill()
			Expect(events.Infos()).To(BeEmpty())
		})
	})

	Context("Start", func() {
		It("rejects an unknown profile", func() {
			Expect(loader.Start(ctx, "devnet")).To(MatchError(ErrInvalidProfile))
			Expect(launcher.Launched()).To(BeZero())
		})

		It("starts the indexer with the published version", func() {
			Expect(loader.Start(ctx, "sepolia")).To(Succeed())

			Expect(events.Infos()).To(ContainElement("Starting indexer (1.5.0)"))
			Expect(events.Profiles()).To(Equal([]string{DefaultProfileID, "sepolia"}))
			Expect(loader.TargetVersion()).To(Equal("1.5.0"))
			Expect(loader.ReadStringConfigValueForKey(ConfigTypeConfigKey, "")).To(Equal("sepolia"))

			Eventually(launcher.Launched).Should(Equal(1))
			Expect(inst.Versions()).To(Equal([]string{"1.5.0"}))

			active := loader.ActiveProfile()
			Expect(launcher.LastConfigPath()).To(Equal(active.IndexerConfigPath()))
			data, err := ioutil.ReadFile(active.IndexerConfigPath())
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal(indexerConfig))
			Expect(active.DBPath()).To(BeADirectory())
			Eventually(loader.IsRunning).Should(BeTrue())
		})

		It("rejects a second start", func() {
			Expect(loader.Start(ctx, DefaultProfileID)).To(Succeed())
			Expect(loader.Start(ctx, DefaultProfileID)).To(MatchError(ErrAlreadyRunning))
			Expect(events.Errors()).To(ContainElement("Indexer is already running"))
		})

		It("prefers a pinned version", func() {
			Expect(loader.SetTargetVersion("v1.6.0")).To(Succeed())
			Expect(loader.Start(ctx, DefaultProfileID)).To(Succeed())

			Expect(events.Infos()).To(ContainElement("Starting indexer (1.6.0)"))
			Eventually(inst.Versions).Should(ContainElement("1.6.0"))
		})

		It("fails without a published version and can be retried", func() {
			manifest.Store("")
			Expect(loader.Start(ctx, DefaultProfileID)).NotTo(Succeed())
			Expect(events.Errors()).To(HaveLen(1))
			Expect(events.Errors()[0]).To(ContainSubstring("Failed to start indexer"))
			Expect(launcher.Launched()).To(BeZero())

			manifest.Store("torii 1.5.0\n")
			Expect(loader.Start(ctx, DefaultProfileID)).To(Succeed())
			Eventually(launcher.Launched).Should(Equal(1))
		})

		It("refuses to start after shutdown", func() {
			loader.Shutdown()
			Expect(loader.Start(ctx, DefaultProfileID)).To(MatchError(ErrShuttingDown))
		})
	})

	Context("progress", func() {
		It("publishes snapshots while the indexer runs", func() {
			Expect(loader.Start(ctx, DefaultProfileID)).To(Succeed())

			By("adopting the first indexer height as the baseline")
			Eventually(func() *int64 {
				return events.LastSnapshot().InitialBlock
			}).ShouldNot(BeNil())
			snapshot := events.LastSnapshot()
			Expect(*snapshot.InitialBlock).To(Equal(int64(150)))
			Expect(snapshot.Progress).To(BeZero())

			By("moving the indexer halfway to the chain head")
			prober.set(175, 200)
			Eventually(func() int32 {
				return events.LastSnapshot().Progress
			}).Should(Equal(int32(50)))
			Eventually(tray.Labels).Should(ContainElement("50%"))
			Expect(loader.LastProgress().CurrentChainBlock).To(Equal(int64(200)))
		})
	})

	Context("Kill", func() {
		It("kills the indexer and lets the supervisor relaunch it", func() {
			Expect(loader.Start(ctx, DefaultProfileID)).To(Succeed())
			Eventually(loader.IsRunning).Should(BeTrue())

			loader.Kill()
			Expect(events.Infos()).To(ContainElement("Indexer successfully killed"))
			Eventually(launcher.Launched).Should(Equal(2))
			Expect(events.Errors()).To(BeEmpty())
		})
	})

	Context("ResetDatabase", func() {
		It("removes the indexer data and adopts a new baseline", func() {
			Expect(loader.Start(ctx, DefaultProfileID)).To(Succeed())
			Eventually(func() *int64 {
				return events.LastSnapshot().InitialBlock
			}).ShouldNot(BeNil())

			marker := filepath.Join(loader.ActiveProfile().DBPath(), "marker")
			Expect(ioutil.WriteFile(marker, nil, 0600)).To(Succeed())

			prober.set(500, 1000)
			Expect(loader.ResetDatabase(ctx)).To(Succeed())

			Expect(marker).NotTo(BeAnExistingFile())
			Expect(events.Infos()).To(ContainElement("Database successfully reset"))
			Eventually(func() int64 {
				if b := events.LastSnapshot().InitialBlock; b != nil {
					return *b
				}
				return 0
			}).Should(Equal(int64(500)))
			Expect(events.LastSnapshot().Progress).To(BeZero())
		})

		It("honours a cancelled context", func() {
			opts.After = func(time.Duration) <-chan time.Time { return nil }
			loader.Shutdown()
			loader = newLoader()

			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			Expect(loader.ResetDatabase(cancelled)).To(MatchError(context.Canceled))
		})
	})

	Context("ResetProfile", func() {
		It("resets another profile without changing the selection", func() {
			sepolia := Profile{ID: "sepolia"}.WithRoot(rootDir)

			marker := filepath.Join(sepolia.DBPath(), "marker")
			Expect(os.MkdirAll(sepolia.DBPath(), 0700)).To(Succeed())
			Expect(ioutil.WriteFile(marker, nil, 0600)).To(Succeed())

			Expect(loader.ResetProfile("sepolia")).To(Succeed())

			Expect(marker).NotTo(BeAnExistingFile())
			Expect(loader.ActiveProfile().ID).To(Equal(DefaultProfileID))
			Expect(loader.ReadStringConfigValueForKey(ConfigTypeConfigKey, "")).NotTo(Equal("sepolia"))
			Expect(events.Profiles()).To(Equal([]string{DefaultProfileID}))
		})

		It("refuses the active profile while its indexer runs", func() {
			Expect(loader.Start(ctx, DefaultProfileID)).To(Succeed())
			Eventually(loader.IsRunning).Should(BeTrue())

			Expect(loader.ResetProfile(DefaultProfileID)).To(MatchError(ErrAlreadyRunning))
			Expect(loader.ResetProfile("devnet")).To(MatchError(ErrInvalidProfile))
		})
	})

	Context("ChangeProfile", func() {
		It("rejects an unknown profile", func() {
			Expect(loader.ChangeProfile(ctx, "devnet")).To(MatchError(ErrInvalidProfile))
		})

		It("switches the running indexer to the new profile", func() {
			Expect(loader.Start(ctx, DefaultProfileID)).To(Succeed())
			Eventually(launcher.Launched).Should(Equal(1))

			Expect(loader.ChangeProfile(ctx, "sepolia")).To(Succeed())
			Expect(events.Profiles()).To(Equal([]string{DefaultProfileID, DefaultProfileID, "sepolia"}))
			Expect(events.Infos()).To(ContainElement("Config type successfully changed"))

			Eventually(launcher.LastConfigPath).Should(ContainSubstring("torii-sepolia.toml"))
		})

		It("keeps the old indexer height out of the new profile's baseline", func() {
			launcher.killDelay = 200 * time.Millisecond
			launcher.onExit = func() { prober.set(0, 200) }

			Expect(loader.Start(ctx, DefaultProfileID)).To(Succeed())
			Eventually(func() *int64 {
				return events.LastSnapshot().InitialBlock
			}).ShouldNot(BeNil())
			Expect(*events.LastSnapshot().InitialBlock).To(Equal(int64(150)))

			Expect(loader.ChangeProfile(ctx, "sepolia")).To(Succeed())
			Eventually(launcher.Launched).Should(Equal(2))
			Expect(launcher.LastConfigPath()).To(ContainSubstring("torii-sepolia.toml"))

			initialBlock := func() *int64 { return loader.LastProgress().InitialBlock }
			Eventually(initialBlock).Should(BeNil())
			Consistently(initialBlock, 200*time.Millisecond).Should(BeNil())

			By("checking both persisted baselines")
			loader.Shutdown()
			store := syncstate.NewStore(func(id string) string {
				return profile.Profile{ID: id}.WithRoot(rootDir).StatePath()
			})
			defer store.Close()

			sepolia, err := store.Load("sepolia")
			Expect(err).NotTo(HaveOccurred())
			Expect(sepolia.FirstBlock).To(BeNil())

			mainnet, err := store.Load(DefaultProfileID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*mainnet.FirstBlock).To(Equal(int64(150)))
		})

		It("is remembered by the next loader", func() {
			Expect(loader.ChangeProfile(ctx, "sepolia")).To(Succeed())
			loader.Shutdown()

			loader = newLoader()
			Expect(loader.ActiveProfile().ID).To(Equal("sepolia"))
		})
	})

	Context("configuration", func() {
		It("validates and persists the log level", func() {
			Expect(loader.SetLogLevel("loud")).To(MatchError(ErrInvalid))
			Expect(loader.SetLogLevel("debug")).To(Succeed())
			Expect(loader.ReadStringConfigValueForKey(LogLevelConfigKey, "")).To(Equal("debug"))
		})

		It("clears a version pin", func() {
			Expect(loader.SetTargetVersion("1.6.0")).To(Succeed())
			Expect(loader.ReadStringConfigValueForKey(TargetVersionConfigKey, "")).To(Equal("1.6.0"))

			Expect(loader.SetTargetVersion("")).To(Succeed())
			Expect(loader.ReadStringConfigValueForKey(TargetVersionConfigKey, "")).To(BeEmpty())
			Expect(loader.SetTargetVersion("latest")).To(MatchError(ErrInvalid))
		})

		It("reads profiles from profiles.yaml", func() {
			loader.Shutdown()
			profiles := "profiles:\n" +
				"  - id: devnet\n" +
				"    rpc: http://localhost:5050\n" +
				"    world_address: \"0x2\"\n"
			Expect(ioutil.WriteFile(filepath.Join(rootDir, "profiles.yaml"), []byte(profiles), 0600)).To(Succeed())

			loader = newLoader()
			Expect(loader.ProfileIDs()).To(Equal([]string{"devnet"}))
			Expect(loader.ActiveProfile().ID).To(Equal("devnet"))
			Expect(loader.ActiveProfile().WorldAddress).To(Equal("0x2"))
		})

		It("rejects a broken profiles.yaml", func() {
			loader.Shutdown()
			Expect(ioutil.WriteFile(filepath.Join(rootDir, "profiles.yaml"), []byte("profiles: [{rpc: 1"), 0600)).To(Succeed())

			_, err := NewLoader(rootDir, opts)
			Expect(err).To(HaveOccurred())
		})
	})
})
