package mcprouter

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// recoveryAction classifies an upstream call failure, grounded on tarsy's
// pkg/mcp/recovery.go ClassifyError.
type recoveryAction int

const (
	noRetry recoveryAction = iota
	retryNewSession
)

func classifyError(err error) recoveryAction {
	if err == nil {
		return noRetry
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return noRetry
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return noRetry
		}
		return retryNewSession
	}
	if isConnectionError(err) {
		return retryNewSession
	}
	if isProtocolError(err) {
		return noRetry
	}
	return noRetry
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "broken pipe", "connection closed", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func isProtocolError(err error) bool {
	var wireErr *jsonrpc.Error
	if !errors.As(err, &wireErr) {
		return false
	}
	switch wireErr.Code {
	case jsonrpc.CodeParseError, jsonrpc.CodeInvalidRequest, jsonrpc.CodeMethodNotFound, jsonrpc.CodeInvalidParams:
		return true
	default:
		return false
	}
}
