// Package main provides clipvaultctl, a command-line client for the
// clipvault semantic search daemon's HTTP command surface.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/clipvault/semantic/internal/config"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func main() {
	port := flag.Int("port", config.GetDaemonPort(), "clipvaultd command surface port")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "status":
		err = cmdStatus(*port)
	case "search":
		err = cmdSearch(*port, args[1:])
	case "download":
		err = cmdDownload(*port)
	case "cancel-download":
		err = cmdCancelDownload(*port)
	case "manual-info":
		err = cmdManualInfo(*port)
	case "bulk-index":
		err = cmdBulkIndex(*port)
	case "rebuild":
		err = cmdRebuild(*port)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "clipvaultctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: clipvaultctl [-port N] <command> [args]

commands:
  status              print the current StatusSnapshot
  search <query>      run a semantic search
  download            start a model download
  cancel-download     cancel an in-flight model download
  manual-info         print manual download instructions
  bulk-index          trigger an incremental index scan
  rebuild             trigger a full index rebuild`)
}

func cmdStatus(port int) error {
	body, err := get(port, "/api/status")
	if err != nil {
		return err
	}
	return printJSON(body)
}

func cmdSearch(port int, rest []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	limit := fs.Int("limit", 10, "max results")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("search requires a query argument")
	}
	query := fs.Arg(0)

	path := fmt.Sprintf("/api/search?q=%s&limit=%d", url.QueryEscape(query), *limit)
	body, err := get(port, path)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func cmdDownload(port int) error {
	body, err := post(port, "/api/download", nil)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func cmdCancelDownload(port int) error {
	body, err := post(port, "/api/download/cancel", nil)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func cmdManualInfo(port int) error {
	body, err := get(port, "/api/download/manual-info")
	if err != nil {
		return err
	}
	return printJSON(body)
}

func cmdBulkIndex(port int) error {
	body, err := post(port, "/api/index/bulk", nil)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func cmdRebuild(port int) error {
	body, err := post(port, "/api/index/rebuild", nil)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func get(port int, path string) (map[string]any, error) {
	resp, err := httpClient.Get(baseURL(port) + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeOrError(resp)
}

func post(port int, path string, payload any) (map[string]any, error) {
	var reader bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = *bytes.NewReader(data)
	}
	resp, err := httpClient.Post(baseURL(port)+path, "application/json", &reader)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return decodeOrError(resp)
}

func decodeOrError(resp *http.Response) (map[string]any, error) {
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode >= 400 {
		return body, fmt.Errorf("daemon returned %s", resp.Status)
	}
	return body, nil
}

func baseURL(port int) string {
	return "http://127.0.0.1:" + strconv.Itoa(port)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
