package main

import (
	"fmt"
	"sync/atomic"

	. "hepir/driver"
	"hepir/pir"

	log "github.com/sirupsen/logrus"
)

// keyLoadGen registers one pre-generated key set under fresh indices, simulating
// clients joining.
type keyLoadGen struct {
	keys      []byte
	nextIndex uint32
}

func initKeyLoadGen(config *Config) *keyLoadGen {
	proxy, params := configureRemote(config)
	proxy.Close()

	fmt.Printf("Generating keys...")
	keys, err := pir.NewClient(params).GenerateGaloisKeys().MarshalBinary()
	if err != nil {
		log.Fatalf("Failed to serialize keys: %s\n", err)
	}
	fmt.Printf("[OK] (%d bytes)\n", len(keys))
	return &keyLoadGen{keys: keys}
}

func (gen *keyLoadGen) request(proxy *RpcProxy) error {
	index := atomic.AddUint32(&gen.nextIndex, 1)
	if err := proxy.RegisterKey(pir.KeyReq{Index: index, Keys: gen.keys}, nil); err != nil {
		return fmt.Errorf("Failed to register keys at index %d: %s", index, err)
	}
	return nil
}

func (gen *keyLoadGen) debugStr() string {
	return fmt.Sprintf("(%d keys)", atomic.LoadUint32(&gen.nextIndex))
}
