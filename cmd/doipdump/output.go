package main

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/eshenhu/doipdump/analyzer"
	"github.com/eshenhu/doipdump/capture"
	"github.com/eshenhu/doipdump/dissect"
)

const timeFormat = "15:04:05.000000"

// printer serializes output of concurrent tap connections.
type printer struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

func newPrinter(w io.Writer, verbose bool) *printer {
	return &printer{w: w, verbose: verbose}
}

func (p *printer) printPacket(pkt *capture.Packet, records []*analyzer.Record) {
	prefix := fmt.Sprintf("%d %s %s %s -> %s", pkt.Index, pkt.Timestamp.UTC().Format(timeFormat),
		pkt.Transport, pkt.Src, pkt.Dst)
	p.print(prefix, records)
}

func (p *printer) printMessage(ts time.Time, src, dst string, records []*analyzer.Record) {
	p.print(fmt.Sprintf("%s %s -> %s", ts.UTC().Format(timeFormat), src, dst), records)
}

func (p *printer) print(prefix string, records []*analyzer.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range records {
		fmt.Fprintf(p.w, "%s DoIP %s\n", prefix, r.Summary)
		if p.verbose && r.Tree != nil {
			r.Tree.Format(p.w)
			fmt.Fprintln(p.w)
		}
	}
}

func printFields(w io.Writer, reg *dissect.Registry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, f := range reg.Fields() {
		fmt.Fprintf(tw, "%s\t%s\t%v\t%s\n", f.Abbrev, f.Name, f.Type, f.Description)
	}
	tw.Flush()
}
