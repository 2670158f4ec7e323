package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"cratsale/crypto"
)

var (
	httpClient = &http.Client{Timeout: 15 * time.Second}
	nowFunc    = time.Now
	newNonce   = func() string { return uuid.NewString() }
)

func defaultEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("SALED_URL")); v != "" {
		return v
	}
	return "http://localhost:7080"
}

type requestFlags struct {
	keystore string
	method   string
	path     string
	body     string
	endpoint string
}

func (f *requestFlags) register(fs *flag.FlagSet, signed bool) {
	if signed {
		fs.StringVar(&f.keystore, "keystore", "", "path to the signing keystore")
		fs.StringVar(&f.method, "method", http.MethodPost, "HTTP method")
		fs.StringVar(&f.body, "body", "", "JSON request body, or @file to read it from disk")
	}
	fs.StringVar(&f.path, "path", "", "request path, e.g. /v1/buy")
	fs.StringVar(&f.endpoint, "server", defaultEndpoint(), "saled base URL")
}

func (f *requestFlags) payload() ([]byte, error) {
	raw := strings.TrimSpace(f.body)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "@") {
		return os.ReadFile(strings.TrimPrefix(raw, "@"))
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("--body is not valid JSON")
	}
	return []byte(raw), nil
}

// signHeaders signs method and path with key. Query strings are
// not part of the signed path.
func signHeaders(key *crypto.PrivateKey, method, path string, body []byte) (map[string]string, error) {
	signedPath := path
	if idx := strings.IndexByte(signedPath, '?'); idx >= 0 {
		signedPath = signedPath[:idx]
	}
	req := crypto.SignedRequest{
		Method:    strings.ToUpper(method),
		Path:      signedPath,
		Nonce:     newNonce(),
		Timestamp: nowFunc().Unix(),
		Body:      body,
	}
	sig, err := req.Sign(key)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		crypto.HeaderAddress:   key.Address().Hex(),
		crypto.HeaderNonce:     req.Nonce,
		crypto.HeaderTimestamp: strconv.FormatInt(req.Timestamp, 10),
		crypto.HeaderSignature: sig,
	}, nil
}

func parseRequestFlags(name string, args []string, signed bool, stderr io.Writer) (*requestFlags, bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := &requestFlags{}
	flags.register(fs, signed)
	if err := fs.Parse(args); err != nil {
		return nil, false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return nil, false
	}
	flags.path = strings.TrimSpace(flags.path)
	if flags.path == "" {
		fmt.Fprintln(stderr, "Error: --path is required")
		return nil, false
	}
	if !strings.HasPrefix(flags.path, "/") {
		flags.path = "/" + flags.path
	}
	return flags, true
}

func runSignCommand(args []string, stdout, stderr io.Writer) int {
	flags, ok := parseRequestFlags("sign", args, true, stderr)
	if !ok {
		return 1
	}
	body, err := flags.payload()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, code := loadKey(flags.keystore, stderr)
	if key == nil {
		return code
	}
	headers, err := signHeaders(key, flags.method, flags.path, body)
	if err != nil {
		fmt.Fprintf(stderr, "Error: sign request: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(headers); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runCallCommand(args []string, stdout, stderr io.Writer) int {
	flags, ok := parseRequestFlags("call", args, true, stderr)
	if !ok {
		return 1
	}
	body, err := flags.payload()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, code := loadKey(flags.keystore, stderr)
	if key == nil {
		return code
	}
	headers, err := signHeaders(key, flags.method, flags.path, body)
	if err != nil {
		fmt.Fprintf(stderr, "Error: sign request: %v\n", err)
		return 1
	}
	return send(strings.ToUpper(flags.method), flags.endpoint, flags.path, body, headers, stdout, stderr)
}

func runGetCommand(args []string, stdout, stderr io.Writer) int {
	flags, ok := parseRequestFlags("get", args, false, stderr)
	if !ok {
		return 1
	}
	return send(http.MethodGet, flags.endpoint, flags.path, nil, nil, stdout, stderr)
}

func send(method, endpoint, path string, body []byte, headers map[string]string, stdout, stderr io.Writer) int {
	url := strings.TrimRight(endpoint, "/") + path
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "Error: request failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(stderr, "Error: read response: %v\n", err)
		return 1
	}
	if resp.StatusCode >= http.StatusBadRequest {
		fmt.Fprintf(stderr, "Error: %s: %s\n", resp.Status, strings.TrimSpace(string(payload)))
		return 1
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload, "", "  "); err == nil {
		fmt.Fprintln(stdout, pretty.String())
	} else {
		fmt.Fprintln(stdout, strings.TrimSpace(string(payload)))
	}
	return 0
}
