package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"

	"github.com/pkg/errors"
)

const (
	DefaultIndexerEndpoint = "http://localhost:8080"
	DefaultContractsURL    = "https://raw.githubusercontent.com/BibliothecaDAO/eternum/refs/heads/next/contracts/game/"

	sqlPath          = "sql"
	toolVersionsFile = ".tool-versions"

	headQuery  = "SELECT MAX(head) FROM contracts;"
	headColumn = "MAX(head)"
)

var (
	// ErrMalformedHead means the indexer answered but cannot report a head
	// yet.
	ErrMalformedHead = errors.New("invalid response format from indexer SQL endpoint")

	ErrVersionNotFound = errors.New("indexer version not found in manifest")

	toolVersionRegexp = regexp.MustCompile(`torii\s+(\d+\.\d+\.\d+)`)
)

type Service struct {
	indexer   *Client
	contracts *Client
}

func NewService(indexerEndpoint, contractsURL string) *Service {
	if indexerEndpoint == "" {
		indexerEndpoint = DefaultIndexerEndpoint
	}
	if contractsURL == "" {
		contractsURL = DefaultContractsURL
	}
	return &Service{
		indexer:   NewClient(indexerEndpoint),
		contracts: NewClient(contractsURL),
	}
}

// IndexerHead returns the highest head recorded across the contracts the
// indexer tracks.
func (s *Service) IndexerHead(ctx context.Context) (int64, error) {
	query := url.Values{}
	query.Set("query", headQuery)

	resp, err := s.indexer.Do(ctx, http.MethodGet, sqlPath, query)
	if err != nil {
		return 0, err
	}

	dec := json.NewDecoder(bytes.NewReader(resp))
	dec.UseNumber()
	var rows []map[string]interface{}
	if err := dec.Decode(&rows); err != nil {
		return 0, errors.Wrap(ErrMalformedHead, err.Error())
	}
	if len(rows) == 0 {
		return 0, ErrMalformedHead
	}

	number, ok := rows[0][headColumn].(json.Number)
	if !ok {
		return 0, ErrMalformedHead
	}
	head, err := number.Int64()
	if err != nil {
		return 0, errors.Wrap(ErrMalformedHead, err.Error())
	}
	return head, nil
}

// IndexerVersion reads the pinned indexer version from the contracts
// .tool-versions manifest.
func (s *Service) IndexerVersion(ctx context.Context) (string, error) {
	resp, err := s.contracts.Do(ctx, http.MethodGet, toolVersionsFile, nil)
	if err != nil {
		return "", errors.Wrap(err, "error fetching version manifest")
	}

	match := toolVersionRegexp.FindSubmatch(resp)
	if match == nil {
		return "", ErrVersionNotFound
	}
	version := string(match[1])
	log.Infof("Using indexer version: %s", version)
	return version, nil
}

// IndexerConfig downloads the published indexer config named fileName.
func (s *Service) IndexerConfig(ctx context.Context, fileName string) ([]byte, error) {
	resp, err := s.contracts.Do(ctx, http.MethodGet, fileName, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "error fetching indexer config %s", fileName)
	}
	return resp, nil
}
