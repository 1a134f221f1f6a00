package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jd3nn1s/dashlog/record"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <segment>...",
	Short: "Print stored records as text",
	Long: `Decode record segments written by "dashlog run", one line per record:

  2026-10-17T10:15:30.123456Z engine rpm=3100 throttle=12.5 ...

Field scales are taken from --config so they match the recording.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		codec, err := record.NewCodec(cfg.Record.Scales)
		if err != nil {
			return err
		}
		for _, name := range args {
			if err := dumpFile(cmd.OutOrStdout(), name, codec); err != nil {
				return err
			}
		}
		return nil
	},
}

func dumpFile(w io.Writer, name string, codec *record.Codec) error {
	f, err := os.Open(name)
	if err != nil {
		return errors.Wrapf(err, "unable to open %s", name)
	}
	defer f.Close()
	n, err := dump(w, f, codec)
	log.WithField("segment", name).WithField("records", n).Debug("dumped")
	return errors.Wrap(err, name)
}

// dump prints every record of r. A partial record at the end is reported
// as an error after the complete ones were printed.
func dump(w io.Writer, r io.Reader, codec *record.Codec) (int, error) {
	rd := record.NewReader(r)
	n := 0
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if _, err := fmt.Fprintln(w, formatRecord(codec, rec)); err != nil {
			return n, err
		}
		n++
	}
}

func formatRecord(codec *record.Codec, rec record.Record) string {
	var b strings.Builder
	b.WriteString(time.UnixMicro(rec.Stamp()).UTC().Format("2006-01-02T15:04:05.000000Z"))
	b.WriteByte(' ')
	b.WriteString(rec.Kind().String())

	l, ok := codec.Layout(rec.Kind())
	if !ok {
		fmt.Fprintf(&b, " % x", rec.Payload())
		return b.String()
	}
	d, err := codec.Decode(rec)
	if err != nil {
		return b.String()
	}
	for _, f := range l.Fields {
		fmt.Fprintf(&b, " %s=%.*f", f.Name, decimals(f.Scale), d.Value(f.Name))
	}
	return b.String()
}

// decimals is how many fraction digits a field of the given scale carries.
func decimals(scale float64) int {
	n := 0
	for ; scale > 1 && n < 9; scale /= 10 {
		n++
	}
	return n
}

// recordPrinter is a forwarder writing every record as a text line.
type recordPrinter struct {
	codec *record.Codec
	w     io.Writer
}

func newRecordPrinter(codec *record.Codec, w io.Writer) *recordPrinter {
	return &recordPrinter{codec: codec, w: w}
}

func (p *recordPrinter) Forward(rec record.Record) error {
	_, err := fmt.Fprintln(p.w, formatRecord(p.codec, rec))
	return err
}
