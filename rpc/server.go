package rpc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/rpc"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

type httpServerCodec struct {
	httpResponse http.ResponseWriter

	encoder *codec.Encoder
	decoder *codec.Decoder
}

func (c *httpServerCodec) WriteResponse(header *rpc.Response, body interface{}) error {
	if header.Error != "" {
		c.httpResponse.Header().Set("Go-Error", header.Error)
		c.httpResponse.WriteHeader(http.StatusInternalServerError)
	}
	if err := c.encoder.Encode(header); err != nil {
		return err
	}
	return c.encoder.Encode(body)
}

func (c *httpServerCodec) Close() error {
	return nil
}

func (c *httpServerCodec) ReadRequestHeader(header *rpc.Request) error {
	return c.decoder.Decode(header)
}

func (c *httpServerCodec) ReadRequestBody(body interface{}) error {
	return c.decoder.Decode(body)
}

type Server interface {
	RegisterName(name string, rcvr interface{}) error
	Serve() error
	Close() error
}

type httpRpcServer struct {
	io.Closer
	httpServer *http.Server
	*rpc.Server

	certFile, keyFile string
}

func (s *httpRpcServer) Serve() error {
	log.Infof("Serving RPC server over HTTPS on %s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServeTLS(s.certFile, s.keyFile)
	if err == http.ErrServerClosed {
		log.Info("Server shutdown")
		return nil
	}
	return err
}

// TLSFiles names the PEM certificate and key an HTTPS server presents.
type TLSFiles struct {
	CertFile string
	KeyFile  string
}

// NewServer listens on port. With tlsFiles set, RPCs arrive as HTTPS POST requests,
// otherwise over raw TCP connections.
func NewServer(port int, tlsFiles *TLSFiles) (Server, error) {
	rpcServer := rpc.NewServer()
	codecHandle := CodecHandle()

	if tlsFiles != nil {
		httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", port)}
		server := httpRpcServer{httpSrv, httpSrv, rpcServer, tlsFiles.CertFile, tlsFiles.KeyFile}
		httpSrv.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, rpc.DefaultRPCPath) {
				w.Header().Set("Content-type", "application/octet-stream")
				codec := httpServerCodec{
					httpResponse: w,
					encoder:      codec.NewEncoder(w, codecHandle),
					decoder:      codec.NewDecoder(r.Body, codecHandle)}
				if err := server.Server.ServeRequest(&codec); err != nil {
					w.Header().Set("Go-Error", err.Error())
					w.WriteHeader(http.StatusInternalServerError)
				}
			}
		})
		return &server, nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen tcp: %v", err)
	}
	return &tcpRpcServer{ln, rpcServer, codecHandle}, nil
}

type tcpRpcServer struct {
	net.Listener
	*rpc.Server

	codecHandle codec.Handle
}

func (s *tcpRpcServer) Serve() error {
	log.Infof("Serving RPC server over TCP on %s", s.Addr().String())
	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("TCP Accept failed: %w", err)
		}
		go s.Server.ServeCodec(codec.GoRpc.ServerCodec(conn, s.codecHandle))
	}
}
