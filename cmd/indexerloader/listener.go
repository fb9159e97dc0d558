package main

import (
	"fmt"
	"io"
	"time"

	"github.com/planetdecred/indexerlib"
)

// printListener writes everything the loader publishes to w.
type printListener struct {
	w io.Writer
}

func (l *printListener) OnNotification(n indexerlib.Notification) {
	ts := time.Unix(0, n.TimestampMs*int64(time.Millisecond)).Format("15:04:05")
	fmt.Fprintf(l.w, "\n[%s] %s: %s\n", ts, n.Severity, n.Message)
}

func (l *printListener) OnProgress(s indexerlib.ProgressSnapshot) {
	if s.InitialBlock == nil {
		return
	}
	fmt.Fprintf(l.w, "\rblock %d of %d (started at %d)", s.CurrentIndexerBlock, s.CurrentChainBlock, *s.InitialBlock)
}

func (l *printListener) OnConfigChanged(p indexerlib.Profile) {
	fmt.Fprintf(l.w, "profile %s (rpc %s)\n", p.ID, p.RPC)
}
