package driver

import (
	"time"

	"hepir/pir"
	"hepir/rpc"
)

type RpcProxy struct {
	*rpc.ClientProxy
}

func NewRpcProxy(serverAddr string, useTLS bool, caFile string, usePersistent bool) (*RpcProxy, error) {
	proxy, err := rpc.NewClientProxy(serverAddr, useTLS, caFile, usePersistent)
	if err != nil {
		return nil, err
	}
	return &RpcProxy{proxy}, nil
}

func (p *RpcProxy) RegisterKey(req pir.KeyReq, none *int) error {
	var non int
	if none == nil {
		none = &non
	}
	return p.Call("PirServerDriver.RegisterKey", req, none)
}

func (p *RpcProxy) Answer(req pir.QueryReq, resp *pir.QueryResp) error {
	return p.Call("PirServerDriver.Answer", req, resp)
}

func (p *RpcProxy) Configure(config TestConfig, none *int) error {
	var non int
	if none == nil {
		none = &non
	}
	return p.Call("PirServerDriver.Configure", config, none)
}

func (p *RpcProxy) Resize(config TestConfig, none *int) error {
	var non int
	if none == nil {
		none = &non
	}
	return p.Call("PirServerDriver.Resize", config, none)
}

func (p *RpcProxy) GetRow(idx int, row *RowIndexVal) error {
	return p.Call("PirServerDriver.GetRow", idx, row)
}

func (p *RpcProxy) NumRows(none int, out *int) error {
	return p.Call("PirServerDriver.NumRows", none, out)
}

func (p *RpcProxy) RowLen(none int, out *int) error {
	return p.Call("PirServerDriver.RowLen", none, out)
}

func (p *RpcProxy) NumKeys(none int, out *int) error {
	return p.Call("PirServerDriver.NumKeys", none, out)
}

func (p *RpcProxy) ResetMetrics(none int, none2 *int) error {
	var non int
	if none2 == nil {
		none2 = &non
	}
	return p.Call("PirServerDriver.ResetMetrics", none, none2)
}

func (p *RpcProxy) GetPreprocessTimer(none int, out *time.Duration) error {
	return p.Call("PirServerDriver.GetPreprocessTimer", none, out)
}

func (p *RpcProxy) GetOfflineTimer(none int, out *time.Duration) error {
	return p.Call("PirServerDriver.GetOfflineTimer", none, out)
}

func (p *RpcProxy) GetOnlineTimer(none int, out *time.Duration) error {
	return p.Call("PirServerDriver.GetOnlineTimer", none, out)
}

func (p *RpcProxy) GetOfflineBytes(none int, out *int) error {
	return p.Call("PirServerDriver.GetOfflineBytes", none, out)
}

func (p *RpcProxy) GetOnlineBytes(none int, out *int) error {
	return p.Call("PirServerDriver.GetOnlineBytes", none, out)
}
