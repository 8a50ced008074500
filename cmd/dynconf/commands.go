package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/BaSui01/dynconf/directive"
	"github.com/BaSui01/dynconf/internal/tlsutil"
	"github.com/BaSui01/dynconf/internal/vhost"
	"github.com/BaSui01/dynconf/types"
)

// =============================================================================
// 🧪 test 命令
// =============================================================================

// runTest 解析、校验并编译配置文件，不绑定任何端口
func runTest(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("c", "conf/nginx.conf", "Path to directive configuration file")
	quiet := fs.Bool("q", false, "Suppress non-error messages")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := testConfig(*path); err != nil {
		fmt.Fprintf(stderr, "dynconf: [emerg] %s in %s\n", types.ReasonOf(err), *path)
		fmt.Fprintf(stderr, "dynconf: configuration file %s test failed\n", *path)
		return 1
	}
	if !*quiet {
		fmt.Fprintf(stdout, "dynconf: the configuration file %s syntax is ok\n", *path)
		fmt.Fprintf(stdout, "dynconf: configuration file %s test is successful\n", *path)
	}
	return 0
}

func testConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.NewResourceError("cannot read configuration file", err)
	}
	doc, err := directive.ParseAndValidate(data)
	if err != nil {
		return err
	}
	_, err = vhost.Compile(doc, vhost.Options{})
	return err
}

// =============================================================================
// 📤 push 命令
// =============================================================================

func runPush(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("push", flag.ContinueOnError)
	fs.SetOutput(stderr)
	url := fs.String("url", "", "URL of a dynamic_config location")
	file := fs.String("file", "", "Configuration file to submit")
	caFile := fs.String("ca", "", "PEM file with CA certificates to trust")
	timeout := fs.Duration("timeout", 60*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *url == "" || *file == "" {
		fmt.Fprintln(stderr, "push: -url and -file are required")
		return 2
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(stderr, "push: %v\n", err)
		return 1
	}
	client, err := tlsutil.SecureHTTPClient(*timeout, *caFile)
	if err != nil {
		fmt.Fprintf(stderr, "push: %v\n", err)
		return 1
	}

	gen, err := push(client, *url, data)
	if err != nil {
		fmt.Fprintf(stderr, "push: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "configuration applied (generation %s)\n", gen)
	return 0
}

// pushError 服务端拒绝了提交
type pushError struct {
	status int
	reason string
}

func (e *pushError) Error() string {
	if e.reason == "" {
		return fmt.Sprintf("rejected with status %d", e.status)
	}
	return fmt.Sprintf("rejected with status %d: %s", e.status, e.reason)
}

// push 提交配置并返回服务端报告的代际
func push(client *http.Client, url string, data []byte) (string, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &pushError{status: resp.StatusCode, reason: strings.TrimSpace(string(body))}
	}

	gen := resp.Header.Get("X-Config-Generation")
	if gen == "" {
		return "", errors.New("response carries no X-Config-Generation header")
	}
	return gen, nil
}
