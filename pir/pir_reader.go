package pir

import (
	"fmt"
)

// QueryServer is the server side of the protocol as seen through a transport.
type QueryServer interface {
	RegisterKey(req KeyReq, none *int) error
	Answer(req QueryReq, resp *QueryResp) error
}

type PIRReader interface {
	Init() error
	Read(i int) (Row, error)
}

type pirReader struct {
	client   *Client
	server   QueryServer
	keyIndex uint32
}

// NewPIRReader reads records from server privately. Keys are registered under index 0.
func NewPIRReader(client *Client, server QueryServer) PIRReader {
	return &pirReader{client: client, server: server}
}

func (r *pirReader) Init() error {
	keys, err := r.client.GenerateGaloisKeys().MarshalBinary()
	if err != nil {
		return err
	}
	var none int
	return r.server.RegisterKey(KeyReq{Index: r.keyIndex, Keys: keys}, &none)
}

func (r *pirReader) Read(i int) (Row, error) {
	p := r.client.Params()
	if i < 0 || i >= p.NumItems {
		return nil, fmt.Errorf("record %d out of range [0, %d)", i, p.NumItems)
	}
	q, err := r.client.GenerateQuery(p.FvIndex(i))
	if err != nil {
		return nil, err
	}
	cts := q.Ciphertexts()
	buf, err := SerializeCiphertexts(cts)
	if err != nil {
		return nil, err
	}

	var resp QueryResp
	err = r.server.Answer(QueryReq{KeyIndex: r.keyIndex, NumCiphertexts: len(cts), Query: buf}, &resp)
	if err != nil {
		return nil, err
	}
	reply, err := DeserializeCiphertexts(resp.NumCiphertexts, resp.Reply, p.ReplyCipherSize())
	if err != nil {
		return nil, err
	}
	coeffs, err := r.client.DecodeReply(reply)
	if err != nil {
		return nil, err
	}
	return r.client.ExtractRecord(coeffs, p.FvOffset(i))
}
