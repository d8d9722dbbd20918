// bridgectl is a small command-line client for the bridge service API.
//
// Usage:
//
//	bridgectl submit -name my-job -script /path/to/script.sh [-attr memory=32000 ...]
//	bridgectl status <job-name>
//	bridgectl poll <job-name>
//	bridgectl kill <job-name>
//	bridgectl list
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type attrFlags map[string]string

func (a attrFlags) String() string { return "" }

func (a attrFlags) Set(v string) error {
	name, value, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("expected name=value, got %q", v)
	}
	a[name] = value
	return nil
}

func main() {
	addr := flag.String("addr", envOr("BRIDGE_ADDR", "http://localhost:8080"), "bridge service base URL")
	apiKey := flag.String("api-key", os.Getenv("BRIDGE_API_KEY"), "bearer token for the API")
	timeout := flag.Duration("timeout", 2*time.Minute, "request timeout")
	flag.Parse()

	if flag.NArg() < 1 {
		fatal("usage: bridgectl [flags] submit|status|poll|kill|list ...")
	}

	c := &client{
		base:   strings.TrimSuffix(*addr, "/"),
		apiKey: *apiKey,
		http:   &http.Client{Timeout: *timeout},
	}

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "submit":
		err = c.submit(flag.Args()[1:])
	case "status":
		err = c.jobOp(http.MethodGet, flag.Arg(1), "")
	case "poll":
		err = c.jobOp(http.MethodPost, flag.Arg(1), "/poll")
	case "kill":
		err = c.jobOp(http.MethodDelete, flag.Arg(1), "")
	case "list":
		err = c.do(http.MethodGet, "/v1/jobs", nil)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fatal(err.Error())
	}
}

type client struct {
	base   string
	apiKey string
	http   *http.Client
}

func (c *client) submit(args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	name := fs.String("name", "", "job name (unique per service)")
	script := fs.String("script", "", "path to the job script on the scheduler host")
	workdir := fs.String("workdir", "", "scratch directory (default derived from name)")
	callback := fs.String("callback", "", "URL for status-event callbacks")
	attrs := attrFlags{}
	fs.Var(attrs, "attr", "runtime attribute name=value (repeatable)")
	fs.Parse(args)

	if *name == "" || *script == "" {
		return fmt.Errorf("submit requires -name and -script")
	}

	body := map[string]any{
		"name":   *name,
		"script": *script,
	}
	if *workdir != "" {
		body["workDir"] = *workdir
	}
	if len(attrs) > 0 {
		body["attributes"] = attrs
	}
	if *callback != "" {
		body["callback"] = map[string]any{"url": *callback}
	}
	return c.do(http.MethodPost, "/v1/jobs", body)
}

func (c *client) jobOp(method, name, suffix string) error {
	if name == "" {
		return fmt.Errorf("job name required")
	}
	return c.do(method, "/v1/jobs/"+name+suffix, nil)
}

func (c *client) do(method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(out)))
	}
	if len(out) > 0 {
		// Re-indent for the terminal; fall back to raw output on odd payloads.
		var pretty bytes.Buffer
		if json.Indent(&pretty, out, "", "  ") == nil {
			fmt.Println(pretty.String())
		} else {
			fmt.Println(string(out))
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
