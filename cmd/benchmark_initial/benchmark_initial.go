package main

import (
	"fmt"
	"os"
	"path"
	"strings"
	"testing"
	"time"

	. "hepir/driver"
	"hepir/pir"

	log "github.com/sirupsen/logrus"
	"gotest.tools/assert"
)

func main() {
	config := new(Config).AddPirFlags().AddClientFlags().AddBenchmarkFlags().Parse()

	var ep ErrorPrinter

	prof := NewProfiler(config.CpuProfile)
	defer prof.Close()

	fmt.Printf("# %s %s\n", path.Base(os.Args[0]), strings.Join(os.Args[1:], " "))
	fmt.Printf("%10s%10s%20s%22s%22s%15s%22s%22s%15s\n",
		"numRows", "rowLen", "PreprocessTime[us]", "OfflineServerTime[us]", "OfflineClientTime[us]", "OfflineBytes",
		"OnlineServerTime[us]", "OnlineClientTime[us]", "OnlineBytes")

	driver, err := config.ServerDriver()
	if err != nil {
		log.Fatalf("Failed to create driver: %s\n", err)
	}

	var none int
	if err := driver.Configure(config.TestConfig, &none); err != nil {
		log.Fatalf("Failed to configure driver: %s\n", err)
	}
	var preprocessTime time.Duration
	assert.NilError(ep, driver.GetPreprocessTimer(0, &preprocessTime))

	params, err := pir.GenParams(config.PirConfig())
	if err != nil {
		log.Fatalf("Bad parameters: %s\n", err)
	}

	var reader pir.PIRReader
	result := testing.Benchmark(func(b *testing.B) {
		assert.NilError(ep, driver.ResetMetrics(0, &none))
		var clientInitTime time.Duration
		for i := 0; i < b.N; i++ {
			start := time.Now()
			reader = pir.NewPIRReader(pir.NewClient(params), driver)
			assert.NilError(ep, reader.Init())
			clientInitTime += time.Since(start)
		}

		var serverOfflineTime time.Duration
		assert.NilError(ep, driver.GetOfflineTimer(0, &serverOfflineTime))
		b.ReportMetric(float64(serverOfflineTime.Microseconds())/float64(b.N), "key-us/op")
		b.ReportMetric(float64((clientInitTime-serverOfflineTime).Microseconds())/float64(b.N), "init-us/op")

		var offlineBytes int
		assert.NilError(ep, driver.GetOfflineBytes(0, &offlineBytes))
		b.ReportMetric(float64(offlineBytes)/float64(b.N), "key-bytes/op")
	})
	fmt.Printf("%10d%10d%20d%22d%22d%15d",
		config.NumRows,
		config.RowLen,
		preprocessTime.Microseconds(),
		int(result.Extra["key-us/op"]),
		int(result.Extra["init-us/op"]),
		int(result.Extra["key-bytes/op"]))

	rand := pir.RandSource()
	result = testing.Benchmark(func(b *testing.B) {
		assert.NilError(ep, driver.ResetMetrics(0, &none))
		var clientReadTime time.Duration
		for i := 0; i < b.N; i++ {
			var rowIV RowIndexVal
			assert.NilError(ep, driver.GetRow(rand.Intn(config.NumRows), &rowIV))

			start := time.Now()
			row, err := reader.Read(rowIV.Index)
			clientReadTime += time.Since(start)
			assert.NilError(ep, err)
			assert.DeepEqual(ep, row, rowIV.Value)
		}
		var serverOnlineTime time.Duration
		assert.NilError(ep, driver.GetOnlineTimer(0, &serverOnlineTime))
		b.ReportMetric(float64(serverOnlineTime.Microseconds())/float64(b.N), "answer-us/op")
		b.ReportMetric(float64((clientReadTime-serverOnlineTime).Microseconds())/float64(b.N), "read-us/op")

		var onlineBytes int
		assert.NilError(ep, driver.GetOnlineBytes(0, &onlineBytes))
		b.ReportMetric(float64(onlineBytes)/float64(b.N), "answer-bytes/op")
	})
	fmt.Printf("%22d%22d%15d\n",
		int(result.Extra["answer-us/op"]),
		int(result.Extra["read-us/op"]),
		int(result.Extra["answer-bytes/op"]))
}
