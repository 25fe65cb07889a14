package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	. "hepir/driver"

	"github.com/paulbellamy/ratecounter"
	log "github.com/sirupsen/logrus"
)

// Number of different records to read to avoid caching effects.
var NumDifferentReads = 20

type loadGen interface {
	request(proxy *RpcProxy) error
	debugStr() string
}

func main() {
	config := new(Config).AddPirFlags().AddClientFlags()
	numWorkers := config.FlagSet.Int("w", 2, "Num workers")
	loadType := config.FlagSet.String("load", "answer", "Load type: [answer|key]")
	config.Parse()
	if config.ServerAddr == "" {
		config.ServerAddr = "localhost:12345"
	}

	prof := NewProfiler(config.CpuProfile)
	defer prof.Close()

	var gen loadGen
	switch *loadType {
	case "answer":
		gen = initAnswerLoadGen(config)
	case "key":
		gen = initKeyLoadGen(config)
	default:
		log.Fatalf("Unknown load type: %s", *loadType)
	}

	// We're recording marks-per-1second
	counter := ratecounter.NewRateCounter(1 * time.Second)

	var wg sync.WaitGroup
	done := make(chan struct{})
	for i := 0; i < *numWorkers; i++ {
		proxy, err := NewRpcProxy(config.ServerAddr, config.UseTLS, config.CAFile, config.UsePersistent)
		if err != nil {
			log.Fatal("Connection error: ", err)
		}
		wg.Add(1)
		go func(proxy *RpcProxy) {
			defer wg.Done()
			defer proxy.Close()
			for {
				select {
				case <-done:
					return
				default:
				}
				if err := gen.request(proxy); err != nil {
					log.Fatal(err)
				}
				counter.Incr(1)
			}
		}(proxy)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c:
			close(done)
			wg.Wait()
			fmt.Printf("\n")
			return
		case <-ticker.C:
			fmt.Printf("\rCurrent rate: %d QPS %s", counter.Rate(), gen.debugStr())
		}
	}
}
