package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

var _ = Describe("Service", func() {
	var (
		server   *httptest.Server
		mu       sync.Mutex
		body     string
		status   int
		lastPath string
		lastSQL  string
		service  *Service
		ctx      context.Context
	)

	BeforeEach(func() {
		status = http.StatusOK
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			lastPath = r.URL.Path
			lastSQL = r.URL.Query().Get("query")
			mu.Unlock()
			w.WriteHeader(status)
			w.Write([]byte(body))
		}))
		service = NewService(server.URL, server.URL+"/contracts/game/")
		ctx = context.Background()
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("IndexerHead", func() {
		It("returns the max head and sends the query as a parameter", func() {
			body = `[{"MAX(head)": 812345}]`

			head, err := service.IndexerHead(ctx)
			Expect(err).To(BeNil())
			Expect(head).To(BeEquivalentTo(812345))

			mu.Lock()
			defer mu.Unlock()
			Expect(lastPath).To(Equal("/sql"))
			Expect(lastSQL).To(Equal("SELECT MAX(head) FROM contracts;"))
		})

		Context("when the indexer is not ready", func() {
			for name, payload := range map[string]string{
				"empty result": `[]`,
				"null head":    `[{"MAX(head)": null}]`,
				"string head":  `[{"MAX(head)": "12"}]`,
				"missing key":  `[{"head": 12}]`,
				"not json":     `<html>starting</html>`,
				"fractional":   `[{"MAX(head)": 12.5}]`,
			} {
				payload := payload
				It("rejects a "+name, func() {
					body = payload
					_, err := service.IndexerHead(ctx)
					Expect(errors.Cause(err)).To(Equal(ErrMalformedHead))
				})
			}
		})

		It("reports non 200 responses as a StatusError", func() {
			status = http.StatusServiceUnavailable
			body = "busy"

			_, err := service.IndexerHead(ctx)
			statusErr, ok := err.(*StatusError)
			Expect(ok).To(BeTrue())
			Expect(statusErr.StatusCode).To(Equal(http.StatusServiceUnavailable))
		})
	})

	Describe("IndexerVersion", func() {
		It("extracts the torii version from .tool-versions", func() {
			body = "scarb 2.9.2\nsozo 1.5.0\ntorii 1.5.1\n"

			version, err := service.IndexerVersion(ctx)
			Expect(err).To(BeNil())
			Expect(version).To(Equal("1.5.1"))

			mu.Lock()
			defer mu.Unlock()
			Expect(lastPath).To(Equal("/contracts/game/.tool-versions"))
		})

		It("fails when the manifest has no torii entry", func() {
			body = "scarb 2.9.2\n"
			_, err := service.IndexerVersion(ctx)
			Expect(err).To(Equal(ErrVersionNotFound))
		})
	})

	Describe("IndexerConfig", func() {
		It("downloads the named config file", func() {
			body = "world_address = \"0x1\"\n"

			data, err := service.IndexerConfig(ctx, "torii-slot.toml")
			Expect(err).To(BeNil())
			Expect(string(data)).To(Equal(body))

			mu.Lock()
			defer mu.Unlock()
			Expect(lastPath).To(Equal("/contracts/game/torii-slot.toml"))
		})
	})
})
