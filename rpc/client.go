package rpc

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/rpc"
	"os"

	"github.com/ugorji/go/codec"
)

type ClientProxy struct {
	serverAddr string
	useTLS     bool
	tlsConfig  *tls.Config
	persistent bool

	codecHandle codec.Handle

	// Cached
	cachedCodec  rpc.ClientCodec
	cachedClient *rpc.Client

	// Recording requests
	shouldRecord bool
	RecordedReqs []RecordedRequest
}

type httpPostCodec struct {
	http       *http.Client
	serverAddr string
	encoder    *codec.Encoder
	decoder    *codec.Decoder
	bodyReader chan (io.ReadCloser)
	bodyCloser io.Closer
}

// ClientTLSConfig verifies servers against the PEM certificates in caFile. With no
// caFile the server certificate is not checked at all, which only suits test servers
// with throwaway self-signed certificates.
func ClientTLSConfig(caFile string) (*tls.Config, error) {
	if caFile == "" {
		return &tls.Config{InsecureSkipVerify: true}, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificates: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no PEM certificates in %s", caFile)
	}
	return &tls.Config{RootCAs: pool}, nil
}

func newHttpPostCodec(codecHandle codec.Handle, serverAddr string, config *tls.Config, usePersistent bool) *httpPostCodec {
	http := &http.Client{
		Transport: &http.Transport{
			DialTLS: func(network, addr string) (net.Conn, error) {
				return tls.Dial("tcp", addr, config)
			},
			DisableKeepAlives: !usePersistent,
		},
	}

	return &httpPostCodec{
		http:       http,
		serverAddr: serverAddr,
		encoder:    codec.NewEncoderBytes(nil, codecHandle),
		decoder:    codec.NewDecoder(nil, codecHandle),
		bodyReader: make(chan io.ReadCloser, 1),
	}
}

func (c *httpPostCodec) WriteRequest(rpcReq *rpc.Request, body interface{}) error {
	var reqBuf []byte
	c.encoder.ResetBytes(&reqBuf)
	if err := c.encoder.Encode(rpcReq); err != nil {
		return fmt.Errorf("encoder WriteRequest header failed: %v", err)
	}
	if err := c.encoder.Encode(body); err != nil {
		return fmt.Errorf("encoder WriteRequest body failed: %v", err)
	}

	url := "https://" + c.serverAddr + rpc.DefaultRPCPath + "/" + rpcReq.ServiceMethod
	httpReq, err := http.NewRequest("POST", url, bytes.NewBuffer(reqBuf))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed HTTP POST: %v", err)
	}
	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusInternalServerError {
		httpResp.Body.Close()
		return fmt.Errorf("failed HTTP POST: %v", httpResp.StatusCode)
	}
	c.bodyReader <- httpResp.Body
	return nil
}

func (c *httpPostCodec) ReadResponseHeader(header *rpc.Response) error {
	respBody := <-c.bodyReader
	c.decoder.Reset(respBody)
	c.bodyCloser = respBody
	return c.decoder.Decode(header)
}

func (c *httpPostCodec) ReadResponseBody(body interface{}) error {
	defer c.bodyCloser.Close()
	return c.decoder.Decode(body)
}

func (c *httpPostCodec) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

type RecordedRequest struct {
	Method   string
	ReqBody  interface{}
	Error    error
	RespBody interface{}
}

// NewClientProxy connects to serverAddr. Over TLS, caFile names the PEM certificates
// trusted to sign the server certificate; see ClientTLSConfig.
func NewClientProxy(serverAddr string, useTLS bool, caFile string, usePersistent bool) (*ClientProxy, error) {
	proxy := ClientProxy{serverAddr: serverAddr, useTLS: useTLS, codecHandle: CodecHandle()}
	if useTLS {
		var err error
		if proxy.tlsConfig, err = ClientTLSConfig(caFile); err != nil {
			return nil, err
		}
	}
	if usePersistent || useTLS {
		// Always cache TLS codec
		codec, err := proxy.codec()
		if err != nil {
			return nil, err
		}
		proxy.cachedCodec = codec

		proxy.cachedClient = rpc.NewClientWithCodec(codec)
		proxy.persistent = true
	}
	return &proxy, nil
}

func (p *ClientProxy) codec() (rpc.ClientCodec, error) {
	if p.persistent {
		return p.cachedCodec, nil
	}
	if p.useTLS {
		return newHttpPostCodec(p.codecHandle, p.serverAddr, p.tlsConfig, p.persistent), nil
	}
	return newTCPCodec(p.codecHandle, p.serverAddr)
}

func (p *ClientProxy) Call(serviceMethod string, args interface{}, reply interface{}) error {
	client, err := p.rpcClient()
	if err != nil {
		return err
	}
	defer p.releaseClient(client)
	err = client.Call(serviceMethod, args, reply)
	if p.shouldRecord {
		p.RecordedReqs = append(p.RecordedReqs, RecordedRequest{serviceMethod, args, err, reply})
	}
	return err
}

func (p *ClientProxy) rpcClient() (*rpc.Client, error) {
	if p.persistent {
		return p.cachedClient, nil
	}

	codec, err := p.codec()
	if err != nil {
		return nil, err
	}
	return rpc.NewClientWithCodec(codec), nil
}

func (p *ClientProxy) releaseClient(client *rpc.Client) error {
	if !p.persistent {
		return client.Close()
	}
	return nil
}

func (p *ClientProxy) Close() {
	if p.persistent {
		p.cachedClient.Close()
	}
}

func (p *ClientProxy) StartRecording() {
	p.shouldRecord = true
	p.RecordedReqs = make([]RecordedRequest, 0)
}

func (p *ClientProxy) StopRecording() []RecordedRequest {
	p.shouldRecord = false
	return p.RecordedReqs
}

func newTCPCodec(codecHandle codec.Handle, serverAddr string) (rpc.ClientCodec, error) {
	conn, err := net.Dial("tcp", serverAddr)
	if err != nil {
		return nil, err
	}
	return codec.GoRpc.ClientCodec(conn, codecHandle), nil
}
