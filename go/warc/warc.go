// Package warc writes minimal WARC/1.0 response records capturing the raw
// HTTP response envelope and body of a crawl.
package warc

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Record renders a WARC/1.0 response record for the response received from
// |url|. The caller supplies the body separately, since the response's own
// reader has typically been drained.
func Record(url string, resp *http.Response, body []byte, now time.Time) []byte {
	var httpBlock = responseBlock(resp, body)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "WARC/1.0\r\n")
	fmt.Fprintf(&buf, "WARC-Type: response\r\n")
	fmt.Fprintf(&buf, "WARC-Target-URI: %s\r\n", url)
	fmt.Fprintf(&buf, "WARC-Date: %s\r\n", now.UTC().Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(&buf, "WARC-Record-ID: <urn:uuid:%s>\r\n", recordID())
	fmt.Fprintf(&buf, "Content-Type: application/http; msgtype=response\r\n")
	fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(httpBlock))
	fmt.Fprintf(&buf, "\r\n")
	buf.Write(httpBlock)

	return buf.Bytes()
}

// responseBlock reconstructs the raw HTTP response: status line, headers,
// blank line, and body.
func responseBlock(resp *http.Response, body []byte) []byte {
	var buf bytes.Buffer

	var proto = resp.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	var status = resp.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	fmt.Fprintf(&buf, "%s %s\r\n", proto, status)

	var keys []string
	for k := range resp.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range resp.Header[k] {
			fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
		}
	}
	fmt.Fprintf(&buf, "\r\n")
	buf.Write(body)

	return buf.Bytes()
}

func recordID() string {
	var u = uuid.New()
	return hex.EncodeToString(u[:])
}
