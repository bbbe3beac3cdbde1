package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"buoy-svr/internal/codec"
)

var decodeCmd = &cobra.Command{
	Use:   "decode [hex]",
	Short: "Decode an 18-byte frame and print it as JSON",
	Long:  "decode prints the measurement carried by a hex frame. Without an argument it reads one frame per line from stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return decodeOne(cmd.OutOrStdout(), args[0])
		}
		return decodeLines(cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func decodeOne(w io.Writer, s string) error {
	frame, err := codec.DecodeHex(s)
	if err != nil {
		return err
	}
	m, err := codec.Decode(frame)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

func decodeLines(r io.Reader, w io.Writer) error {
	if r == os.Stdin {
		logger.Info("reading hex frames from stdin, one per line (Ctrl+D to exit)")
	}
	var total, failed int
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		total++
		if err := decodeOne(w, line); err != nil {
			failed++
			logger.Error("failed to decode frame", "line", line, "err", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d frames failed to decode", failed, total)
	}
	return nil
}
