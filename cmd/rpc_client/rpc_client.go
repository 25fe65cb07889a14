package main

import (
	"fmt"
	"os"
	"time"

	"hepir/driver"
	"hepir/pir"

	log "github.com/sirupsen/logrus"
)

func main() {
	config := new(driver.Config).AddPirFlags().AddClientFlags().AddBenchmarkFlags().Parse()
	if config.ServerAddr == "" {
		config.ServerAddr = "localhost:12345"
	}

	fmt.Printf("Connecting to %s (TLS: %t)...", config.ServerAddr, config.UseTLS)
	proxy, err := config.ServerDriver()
	if err != nil {
		log.Fatal("Connection error: ", err)
	}
	fmt.Printf("[OK]\n")

	fmt.Printf("Setting up remote DB (this may take a while)...")
	var none int
	if err := proxy.Configure(config.TestConfig, &none); err != nil {
		log.Fatalf("Failed to Configure: %s\n", err)
	}
	var preprocessTime time.Duration
	if err := proxy.GetPreprocessTimer(0, &preprocessTime); err != nil {
		log.Fatalf("Failed to get preprocessing time: %s\n", err)
	}
	fmt.Printf("[OK]\n")

	params, err := pir.GenParams(config.PirConfig())
	if err != nil {
		log.Fatalf("Bad parameters: %s\n", err)
	}
	fmt.Printf("%s: %d plaintexts of %d records, hypercube %v, T=%d\n",
		params.Config, params.NumPlaintexts, params.ElemsPerPlaintext, params.Nvec, params.T)
	fmt.Printf("Preprocessed database in %v\n", preprocessTime)

	client := pir.NewClient(params)

	fmt.Printf("Registering evaluation keys...")
	start := time.Now()
	keys, err := client.GenerateGaloisKeys().MarshalBinary()
	if err != nil {
		log.Fatalf("Failed to serialize keys: %s\n", err)
	}
	if err := proxy.RegisterKey(pir.KeyReq{Keys: keys}, &none); err != nil {
		log.Fatalf("Failed to register keys: %s\n", err)
	}
	fmt.Printf("[OK] (%d bytes, %v)\n", len(keys), time.Since(start))

	src := pir.CryptoRandSource()
	latencies := make([]int64, 0, config.NumQueries)
	for i := 0; i < config.NumQueries; i++ {
		ele := src.Intn(params.NumItems)

		start := time.Now()
		q, err := client.GenerateQuery(client.GetFvIndex(ele))
		if err != nil {
			log.Fatalf("Failed to generate query for %d: %s", ele, err)
		}
		cts := q.Ciphertexts()
		buf, err := pir.SerializeCiphertexts(cts)
		if err != nil {
			log.Fatalf("Failed to serialize query: %s", err)
		}
		queryTime := time.Since(start)

		start = time.Now()
		var resp pir.QueryResp
		if err := proxy.Answer(pir.QueryReq{NumCiphertexts: len(cts), Query: buf}, &resp); err != nil {
			log.Fatalf("Failed to answer query for %d: %s", ele, err)
		}
		replyTime := time.Since(start)

		start = time.Now()
		reply, err := pir.DeserializeCiphertexts(resp.NumCiphertexts, resp.Reply, params.ReplyCipherSize())
		if err != nil {
			log.Fatalf("Failed to deserialize reply: %s", err)
		}
		coeffs, err := client.DecodeReply(reply)
		if err != nil {
			log.Fatalf("Failed to decode reply: %s", err)
		}
		row, err := client.ExtractRecord(coeffs, client.GetFvOffset(ele))
		if err != nil {
			log.Fatalf("Failed to extract record %d: %s", ele, err)
		}
		decodeTime := time.Since(start)
		latencies = append(latencies, (queryTime + replyTime + decodeTime).Microseconds())

		var want driver.RowIndexVal
		if err := proxy.GetRow(ele, &want); err != nil {
			log.Fatalf("Failed to get row %d: %s", ele, err)
		}
		if err := pir.CheckRecord(row, want.Value); err != nil {
			log.Fatalf("Record %d: %s", ele, err)
		}
		fmt.Printf("Record %d: query %v, reply %v (%d ciphertexts, %d bytes), decode %v [OK]\n",
			ele, queryTime, replyTime, resp.NumCiphertexts, len(resp.Reply), decodeTime)
	}

	if len(config.LatenciesFile) > 0 {
		lOut, err := os.Create(config.LatenciesFile)
		if err != nil {
			log.Fatalf("Failed to create %s: %s", config.LatenciesFile, err)
		}
		for _, l := range latencies {
			fmt.Fprintf(lOut, "%d\n", l)
		}
		lOut.Close()
	}

	fmt.Printf("Completed %d queries\n", len(latencies))
}
