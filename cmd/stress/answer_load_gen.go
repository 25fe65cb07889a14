package main

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	. "hepir/driver"
	"hepir/pir"

	log "github.com/sirupsen/logrus"
)

// answerLoadGen replays recorded queries. Replies are randomized by encryption noise,
// so a replayed reply is checked by decrypting it rather than by comparing bytes.
type answerLoadGen struct {
	client  *pir.Client
	params  *pir.Params
	reqs    []pir.QueryReq
	indices []int
	values  []pir.Row

	// pir.Client decrypts with shared scratch space.
	decodeMu sync.Mutex

	queriesDone uint64
}

// configureRemote builds the remote database with NumDifferentReads preset rows and
// returns them together with the parameters the server derived.
func configureRemote(config *Config) (*RpcProxy, *pir.Params) {
	fmt.Printf("Connecting to %s (TLS: %t)...", config.ServerAddr, config.UseTLS)
	proxy, err := NewRpcProxy(config.ServerAddr, config.UseTLS, config.CAFile, config.UsePersistent)
	if err != nil {
		log.Fatal("Connection error: ", err)
	}
	fmt.Printf("[OK]\n")

	for i := 0; i < NumDifferentReads; i++ {
		value := make([]byte, config.RowLen)
		rand.Read(value)
		config.PresetRows = append(config.PresetRows, RowIndexVal{
			Index: i * config.NumRows / NumDifferentReads,
			Value: value})
	}

	fmt.Printf("Setting up remote DB...")
	if err := proxy.Configure(config.TestConfig, nil); err != nil {
		log.Fatalf("Failed to Configure: %s\n", err)
	}
	var numRows int
	if err := proxy.NumRows(0, &numRows); err != nil || numRows != config.NumRows {
		log.Fatalf("Invalid number of rows on server: %d", numRows)
	}
	fmt.Printf("[OK] (numRows: %d)\n", numRows)

	params, err := pir.GenParams(config.PirConfig())
	if err != nil {
		log.Fatalf("Bad parameters: %s\n", err)
	}
	return proxy, params
}

func initAnswerLoadGen(config *Config) *answerLoadGen {
	proxy, params := configureRemote(config)
	defer proxy.Close()

	client := pir.NewClient(params)
	reader := pir.NewPIRReader(client, proxy)
	fmt.Printf("Registering keys...")
	if err := reader.Init(); err != nil {
		log.Fatalf("Failed to Initialize client: %s\n", err)
	}
	fmt.Printf("[OK]\n")

	fmt.Printf("Caching queries...")
	gen := &answerLoadGen{client: client, params: params}
	proxy.StartRecording()
	for i := 0; i < NumDifferentReads; i++ {
		preset := config.PresetRows[i]
		readVal, err := reader.Read(preset.Index)
		if err != nil {
			log.Fatalf("Failed to read index %d: %s", preset.Index, err)
		}
		if !bytes.Equal(preset.Value, readVal) {
			log.Fatalf("Mismatching row value at index %d", preset.Index)
		}
	}
	ireqs := proxy.StopRecording()
	for i := range ireqs {
		if req, ok := ireqs[i].ReqBody.(pir.QueryReq); ok {
			gen.reqs = append(gen.reqs, req)
		}
	}
	if len(gen.reqs) != NumDifferentReads {
		log.Fatalf("Cached %d queries, expected %d", len(gen.reqs), NumDifferentReads)
	}
	for _, preset := range config.PresetRows[:NumDifferentReads] {
		gen.indices = append(gen.indices, preset.Index)
		gen.values = append(gen.values, preset.Value)
	}
	fmt.Printf("(%d #cached) [OK]\n", len(gen.reqs))
	return gen
}

func (gen *answerLoadGen) request(proxy *RpcProxy) error {
	idx := rand.Intn(len(gen.reqs))
	var resp pir.QueryResp
	if err := proxy.Answer(gen.reqs[idx], &resp); err != nil {
		return fmt.Errorf("Failed to replay query number %d to server: %s", idx, err)
	}
	reply, err := pir.DeserializeCiphertexts(resp.NumCiphertexts, resp.Reply, gen.params.ReplyCipherSize())
	if err != nil {
		return err
	}
	gen.decodeMu.Lock()
	coeffs, err := gen.client.DecodeReply(reply)
	gen.decodeMu.Unlock()
	if err != nil {
		return err
	}
	row, err := gen.client.ExtractRecord(coeffs, gen.params.FvOffset(gen.indices[idx]))
	if err != nil {
		return err
	}
	if err := pir.CheckRecord(row, gen.values[idx]); err != nil {
		return fmt.Errorf("Mismatching response in query number %d: %w", idx, err)
	}
	atomic.AddUint64(&gen.queriesDone, 1)
	return nil
}

func (gen *answerLoadGen) debugStr() string {
	return fmt.Sprintf("(%d queries)", atomic.LoadUint64(&gen.queriesDone))
}
