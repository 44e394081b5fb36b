package commands

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srediag/txbuf/pkg/buffers"
)

var (
	dumpSegments    int
	dumpSegmentSize int
	dumpAudit       bool
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write interleaved payloads and dump the segments",
	Long: `Write a few payloads for two queue colors and the global color, dump
every segment and reader, then read each queue and print what it got.`,
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().IntVar(&dumpSegments, "segments", 16, "number of segments")
	dumpCmd.Flags().IntVar(&dumpSegmentSize, "segment-size", 8, "payload bytes per segment")
	dumpCmd.Flags().BoolVar(&dumpAudit, "audit", true, "print the audit trail")
	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	config.Name = "dump"
	config.SegmentCount = dumpSegments
	config.SegmentSize = dumpSegmentSize
	buf, err := buffers.New(config)
	if err != nil {
		return err
	}
	defer buf.Close()

	a, err := buf.NewReader()
	if err != nil {
		return err
	}
	b, err := buf.NewReader()
	if err != nil {
		return err
	}
	writes := []struct {
		data  string
		color buffers.Color
	}{
		{"A1", a.Color()},
		{"G1 to everyone", buffers.AllBuffersColor()},
		{"A2 spans several segments", a.Color()},
		{"B1", b.Color()},
	}
	for _, w := range writes {
		if err := buf.WriteBytes(cmd.Context(), []byte(w.data), w.color); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	buf.DumpSegments(out)
	fmt.Fprintln(out)

	for _, r := range []*buffers.Reader{a, b} {
		var got bytes.Buffer
		if _, err := r.Read(&got); err != nil {
			return err
		}
		fmt.Fprintf(out, "color %s read %q\n", r.Color(), got.String())
	}

	if dumpAudit && buf.Audit() != nil {
		fmt.Fprintln(out)
		return buf.Audit().Dump(out)
	}
	return nil
}
