// parsercheck is the parser-validation utility (spec §6 "CLI surface"):
// single-purpose, no sub-commands. It feeds raw venue ticker payloads
// (one JSON object per line, from a file or stdin) through the same
// bridge.TickParser used in production and reports what would have
// been pushed onto the market pipeline, without requiring a live
// venue connection.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pieterjandubois/fundingspreadarb/internal/bridge"
	"github.com/pieterjandubois/fundingspreadarb/internal/marketdata"
)

const (
	exitOK        = 0
	exitInitError = 1
)

var inputPath string

var rootCmd = &cobra.Command{
	Use:   "parsercheck",
	Short: "validates raw venue ticker payloads against the tick parser contract",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func main() {
	rootCmd.Flags().StringVar(&inputPath, "file", "", "path to a file of newline-delimited payloads (defaults to stdin)")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInitError)
	}
}

func run() error {
	var in io.Reader = os.Stdin
	if inputPath != "" {
		f, err := os.Open(inputPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open %s: %v\n", inputPath, err)
			os.Exit(exitInitError)
		}
		defer f.Close()
		in = f
	}

	parser := bridge.NewJSONTickerParser(nil)
	scanner := bufio.NewScanner(in)

	total, rejected := 0, 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		total++

		symbol, bid, ask, tsUS, ok := parser.Parse(line)
		if !ok {
			rejected++
			fmt.Printf("REJECT  raw=%s\n", line)
			continue
		}
		if !(marketdata.Tick{Bid: bid, Ask: ask}).Valid() {
			rejected++
			fmt.Printf("INVALID symbol=%s bid=%v ask=%v\n", symbol, bid, ask)
			continue
		}
		fmt.Printf("OK      symbol=%s bid=%v ask=%v ts_us=%d\n", symbol, bid, ask, tsUS)
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "scan input: %v\n", err)
		os.Exit(exitInitError)
	}

	fmt.Printf("\n%d payloads, %d rejected\n", total, rejected)
	os.Exit(exitOK)
	return nil
}
