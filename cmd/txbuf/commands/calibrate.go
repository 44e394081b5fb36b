package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srediag/txbuf/pkg/buffers"
)

var (
	calSegments    int
	calSegmentSize int
	calChunk       int
	calGlobal      bool
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Fill a small ring until the first overflow",
	Long: `Create a ring (100 segments of 2 bytes by default), register one reader
and write chunks of --chunk bytes to its color without reading. With --global
no reader is registered and the chunks go to the global color. The ring
accepts writes until the next one would overwrite unread data; that write
must fail with an overflow error, which is printed.`,
	RunE: runCalibrate,
}

func init() {
	calibrateCmd.Flags().IntVar(&calSegments, "segments", 100, "number of segments")
	calibrateCmd.Flags().IntVar(&calSegmentSize, "segment-size", 2, "payload bytes per segment")
	calibrateCmd.Flags().IntVar(&calChunk, "chunk", 100, "bytes per write")
	calibrateCmd.Flags().BoolVar(&calGlobal, "global", false, "write to the global color with no reader registered")
	rootCmd.AddCommand(calibrateCmd)
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	config.Name = "calibrate"
	config.SegmentCount = calSegments
	config.SegmentSize = calSegmentSize
	config.Overflow = buffers.OverflowReject
	buf, err := buffers.New(config)
	if err != nil {
		return err
	}
	defer buf.Close()

	color := buffers.AllBuffersColor()
	if !calGlobal {
		reader, err := buf.NewReader()
		if err != nil {
			return err
		}
		color = reader.Color()
	}
	chunk := make([]byte, calChunk)
	out := cmd.OutOrStdout()
	written := 0
	for i := 1; ; i++ {
		err := buf.WriteBytes(cmd.Context(), chunk, color)
		if err == nil {
			written += len(chunk)
			fmt.Fprintf(out, "write %d: %d bytes, %d total\n", i, len(chunk), written)
			continue
		}
		if !errors.Is(err, buffers.ErrOverflow) {
			return err
		}
		fmt.Fprintf(out, "write %d failed: %v\n", i, err)
		fmt.Fprintf(out, "ring of %d x %d bytes held %d unread bytes\n", calSegments, calSegmentSize, written)
		return nil
	}
}
