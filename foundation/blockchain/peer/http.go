package peer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// WirePath is the route of the private API accepting framed messages.
const WirePath = "/v1/node/wire"

// HTTPTransport delivers framed messages by posting them to the private API
// of the peer node.
type HTTPTransport struct {
	Client  *http.Client
	Timeout time.Duration
}

// Send implements the Transport interface.
func (t HTTPTransport) Send(address string, port uint16, data []byte) error {
	return t.SendContext(context.Background(), address, port, data)
}

// SendContext implements the ContextTransport interface. The configured
// timeout still applies when the context has a later deadline.
func (t HTTPTransport) SendContext(ctx context.Context, address string, port uint16, data []byte) error {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	url := fmt.Sprintf("http://%s%s", net.JoinHostPort(address, strconv.Itoa(int(port))), WirePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		return nil
	}

	msg, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return err
	}
	return errors.New(string(msg))
}
