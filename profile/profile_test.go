package profile_test

import (
	"io/ioutil"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
	"github.com/planetdecred/indexerlib/profile"
)

var _ = Describe("Profile", func() {
	It("lays out its files under the root directory", func() {
		p := profile.Profile{ID: "sepolia"}.WithRoot("/data")
		Expect(p.Dir()).To(Equal(filepath.Join("/data", "sepolia")))
		Expect(p.DBPath()).To(Equal(filepath.Join("/data", "sepolia", "db")))
		Expect(p.StatePath()).To(Equal(filepath.Join("/data", "sepolia", "state.db")))
		Expect(p.IndexerConfigPath()).To(Equal(filepath.Join("/data", "sepolia", "torii-sepolia.toml")))
	})

	It("uses an explicit config path", func() {
		p := profile.Profile{ID: "local", ConfigPath: "/etc/torii.toml"}.WithRoot("/data")
		Expect(p.IndexerConfigPath()).To(Equal("/etc/torii.toml"))
	})

	table.DescribeTable("ConfigFileName",
		func(id, expected string) {
			Expect(profile.ConfigFileName(id)).To(Equal(expected))
		},
		table.Entry("mainnet", "mainnet", "torii-mainnet-game.toml"),
		table.Entry("sepolia", "sepolia", "torii-sepolia.toml"),
		table.Entry("slot", "slot", "torii-slot.toml"),
	)
})

var _ = Describe("Registry", func() {
	var rootDir string

	BeforeEach(func() {
		var err error
		rootDir, err = ioutil.TempDir("", "profile")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(rootDir)
	})

	writeProfiles := func(content string) {
		path := filepath.Join(rootDir, profile.ProfilesFileName)
		Expect(ioutil.WriteFile(path, []byte(content), 0600)).To(Succeed())
	}

	It("falls back to the built-in profiles", func() {
		r, err := profile.LoadRegistry(rootDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.IDs()).To(Equal([]string{"local", "mainnet", "sepolia", "slot"}))

		p, ok := r.Get("mainnet")
		Expect(ok).To(BeTrue())
		Expect(p.RPC).NotTo(BeEmpty())
		Expect(p.Dir()).To(Equal(filepath.Join(rootDir, "mainnet")))
	})

	It("reads profiles from the file", func() {
		writeProfiles(`
profiles:
  - id: devnet
    rpc: http://localhost:5050
    world_address: "0x42"
  - id: archive
    rpc: wss://archive.example/ws
    config_path: /etc/archive.toml
`)
		r, err := profile.LoadRegistry(rootDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.IDs()).To(Equal([]string{"archive", "devnet"}))

		devnet, ok := r.Get("devnet")
		Expect(ok).To(BeTrue())
		Expect(devnet.WorldAddress).To(Equal("0x42"))
		Expect(devnet.DBPath()).To(Equal(filepath.Join(rootDir, "devnet", "db")))

		archive, _ := r.Get("archive")
		Expect(archive.IndexerConfigPath()).To(Equal("/etc/archive.toml"))

		_, ok = r.Get("mainnet")
		Expect(ok).To(BeFalse())
	})

	It("accepts a profile without an rpc url", func() {
		writeProfiles("profiles:\n  - id: offline\n")
		r, err := profile.LoadRegistry(rootDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.IDs()).To(Equal([]string{"offline"}))
	})

	table.DescribeTable("rejects invalid files",
		func(content string) {
			writeProfiles(content)
			_, err := profile.LoadRegistry(rootDir)
			Expect(err).To(HaveOccurred())
		},
		table.Entry("malformed yaml", "profiles: [{id: a"),
		table.Entry("empty list", "profiles: []\n"),
		table.Entry("missing id", "profiles:\n  - rpc: http://localhost:5050\n"),
		table.Entry("id with a path separator", "profiles:\n  - id: ../escape\n"),
		table.Entry("dot id", "profiles:\n  - id: ..\n"),
		table.Entry("unsupported scheme", "profiles:\n  - id: a\n    rpc: ftp://host\n"),
		table.Entry("missing host", "profiles:\n  - id: a\n    rpc: http://\n"),
	)
})
