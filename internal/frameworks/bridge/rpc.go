package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mwiater/tvmbench/internal/logging"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a failure reported by the worker, typically an exception
// raised inside one of the frameworks.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("worker error %d: %s", e.Code, e.Message)
}

func normalizeID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '"' {
		if unquoted, err := strconv.Unquote(trimmed); err == nil {
			return unquoted
		}
		trimmed = strings.Trim(trimmed, "\"")
	}
	return trimmed
}

func (c *Client) nextID() int64 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.seq++
	return c.seq
}

func writeFrame(w *bufio.Writer, data []byte) error {
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.Flush()
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	headers := make(map[string]string)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if idx := strings.IndexByte(line, ':'); idx >= 0 {
			headers[strings.ToLower(strings.TrimSpace(line[:idx]))] = strings.TrimSpace(line[idx+1:])
		}
	}

	cl, ok := headers["content-length"]
	if !ok {
		return nil, fmt.Errorf("missing Content-Length header")
	}
	length, err := strconv.Atoi(cl)
	if err != nil || length < 0 {
		return nil, fmt.Errorf("invalid Content-Length %q", cl)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) readResponse(ctx context.Context) (rpcResponse, []byte, error) {
	type result struct {
		resp rpcResponse
		raw  []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := readFrame(c.reader)
		if err != nil {
			done <- result{err: err}
			return
		}
		var resp rpcResponse
		err = json.Unmarshal(raw, &resp)
		done <- result{resp: resp, raw: raw, err: err}
	}()

	select {
	case <-ctx.Done():
		return rpcResponse{}, nil, ctx.Err()
	case res := <-done:
		return res.resp, res.raw, res.err
	}
}

// call issues one request and decodes the result into out. A transport
// failure or abandoned read leaves the stream out of sync, so the client is
// marked broken and every later call fails fast.
func (c *Client) call(ctx context.Context, method string, params any, handle string, out any) error {
	c.rpcMu.Lock()
	defer c.rpcMu.Unlock()

	if c.broken != nil {
		return fmt.Errorf("%s: worker connection unusable: %w", method, c.broken)
	}

	id := c.nextID()
	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", method, err)
	}
	logging.LogRequest("tvmbench->worker", method, handle, data)

	if err := writeFrame(c.writer, data); err != nil {
		c.broken = err
		return fmt.Errorf("%s: write request: %w", method, err)
	}

	resp, raw, err := c.readResponse(ctx)
	if err != nil {
		c.broken = err
		return fmt.Errorf("%s: %w", method, err)
	}
	logging.LogRequest("worker->tvmbench", method, handle, raw)

	if got := normalizeID(resp.ID); got != strconv.FormatInt(id, 10) {
		c.broken = fmt.Errorf("response id %q does not match request id %d", got, id)
		return fmt.Errorf("%s: %w", method, c.broken)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: %w", method, resp.Error)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}
