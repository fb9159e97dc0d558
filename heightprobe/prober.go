package heightprobe

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/planetdecred/indexerlib/events"
)

const (
	// DefaultBlockNumberMethod is the JSON-RPC method queried for the chain
	// head.
	DefaultBlockNumberMethod = "starknet_blockNumber"

	defaultTimeout = 10 * time.Second

	sourceChain   = "chain"
	sourceIndexer = "indexer"
)

// IndexerSource answers the indexer's local head query.
type IndexerSource interface {
	IndexerHead(ctx context.Context) (int64, error)
}

// Prober fetches the remote chain height and the local indexer height.
type Prober struct {
	indexer           IndexerSource
	blockNumberMethod string
	timeout           time.Duration
}

func New(indexer IndexerSource, blockNumberMethod string) *Prober {
	if blockNumberMethod == "" {
		blockNumberMethod = DefaultBlockNumberMethod
	}
	return &Prober{
		indexer:           indexer,
		blockNumberMethod: blockNumberMethod,
		timeout:           defaultTimeout,
	}
}

// ChainHeight returns the latest block number reported by rpcURL. An empty
// URL means the height is unknown and yields 0 without an error. Failures
// yield 0 and a ProbeError.
func (p *Prober) ChainHeight(ctx context.Context, rpcURL string) (int64, error) {
	if rpcURL == "" {
		log.Warn("RPC config not available for fetching chain block")
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return 0, &events.ProbeError{Source: sourceChain, Err: err}
	}
	defer client.Close()

	var result json.RawMessage
	if err := client.CallContext(ctx, &result, p.blockNumberMethod); err != nil {
		return 0, &events.ProbeError{Source: sourceChain, Err: err}
	}

	height, err := parseBlockNumber(result)
	if err != nil {
		return 0, &events.ProbeError{Source: sourceChain, Err: err}
	}
	log.Debugf("chain block %d", height)
	return height, nil
}

// IndexerHeight returns the highest block the indexer has processed. Any
// failure, including an empty answer, is a ProbeError.
func (p *Prober) IndexerHeight(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	height, err := p.indexer.IndexerHead(ctx)
	if err != nil {
		return 0, &events.ProbeError{Source: sourceIndexer, Err: err}
	}
	log.Debugf("indexer block %d", height)
	return height, nil
}

// parseBlockNumber accepts both a JSON number (starknet) and a hex quantity
// string (ethereum style).
func parseBlockNumber(raw json.RawMessage) (int64, error) {
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		return number.Int64()
	}

	var quantity string
	if err := json.Unmarshal(raw, &quantity); err != nil {
		return 0, errors.Errorf("unexpected block number %s", raw)
	}
	if strings.HasPrefix(quantity, "0x") || strings.HasPrefix(quantity, "0X") {
		return strconv.ParseInt(quantity[2:], 16, 64)
	}
	return strconv.ParseInt(quantity, 10, 64)
}
