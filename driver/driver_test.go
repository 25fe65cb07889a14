package driver

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hepir/pir"
	"hepir/rpc"

	"golang.org/x/sync/errgroup"
	"gotest.tools/assert"
)

var config *Config

func TestMain(m *testing.M) {
	config = new(Config).AddPirFlags().AddClientFlags().Parse()
	os.Exit(m.Run())
}

func smallTestConfig() TestConfig {
	tc := config.TestConfig
	tc.NumRows = 1000
	tc.RowLen = 100
	tc.N = 1024
	tc.Logt = 20
	tc.D = 2
	tc.DataRandSeed = 13
	tc.MeasureBandwidth = true
	return tc
}

func readPreset(t *testing.T, driver PirServerDriver, tc TestConfig) {
	presetRow := make(pir.Row, tc.RowLen)
	pir.RandSource().Read(presetRow)
	tc.PresetRows = []RowIndexVal{{7, presetRow}}

	var none int
	assert.NilError(t, driver.Configure(tc, &none))

	params, err := pir.GenParams(tc.PirConfig())
	assert.NilError(t, err)
	client := pir.NewPIRReader(pir.NewClient(params), driver)
	assert.NilError(t, client.Init())

	val, err := client.Read(7)
	assert.NilError(t, err)
	assert.DeepEqual(t, val, presetRow)

	var row RowIndexVal
	assert.NilError(t, driver.GetRow(512, &row))
	val, err = client.Read(512)
	assert.NilError(t, err)
	assert.DeepEqual(t, val, row.Value)
}

func TestStatic(t *testing.T) {
	driver, err := config.ServerDriver()
	assert.NilError(t, err)

	for _, mode := range pir.QueryModeValues() {
		tc := smallTestConfig()
		tc.Mode = mode
		readPreset(t, driver, tc)
	}
}

func TestMetrics(t *testing.T) {
	driver, err := NewServerDriver()
	assert.NilError(t, err)
	readPreset(t, driver, smallTestConfig())

	var preprocess, offline, online time.Duration
	assert.NilError(t, driver.GetPreprocessTimer(0, &preprocess))
	assert.NilError(t, driver.GetOfflineTimer(0, &offline))
	assert.NilError(t, driver.GetOnlineTimer(0, &online))
	assert.Assert(t, preprocess > 0)
	assert.Assert(t, offline > 0)
	assert.Assert(t, online > 0)

	var offlineBytes, onlineBytes, numKeys int
	assert.NilError(t, driver.GetOfflineBytes(0, &offlineBytes))
	assert.NilError(t, driver.GetOnlineBytes(0, &onlineBytes))
	assert.NilError(t, driver.NumKeys(0, &numKeys))
	assert.Assert(t, offlineBytes > onlineBytes)
	assert.Assert(t, onlineBytes > 0)
	assert.Equal(t, numKeys, 1)

	assert.NilError(t, driver.ResetMetrics(0, nil))
	assert.NilError(t, driver.GetOnlineBytes(0, &onlineBytes))
	assert.Equal(t, onlineBytes, 0)
}

func TestResize(t *testing.T) {
	driver, err := NewServerDriver()
	assert.NilError(t, err)
	tc := smallTestConfig()
	var none int
	assert.NilError(t, driver.Configure(tc, &none))

	params, err := pir.GenParams(tc.PirConfig())
	assert.NilError(t, err)
	client := pir.NewClient(params)
	reader := pir.NewPIRReader(client, driver)
	assert.NilError(t, reader.Init())

	tc.NumRows = 300
	tc.RowLen = 50
	assert.NilError(t, driver.Resize(tc, &none))
	resized, err := pir.UpdateParams(params, tc.NumRows, tc.RowLen)
	assert.NilError(t, err)
	assert.NilError(t, client.UpdateParameters(resized))

	var numRows, rowLen int
	assert.NilError(t, driver.NumRows(0, &numRows))
	assert.NilError(t, driver.RowLen(0, &rowLen))
	assert.Equal(t, numRows, 300)
	assert.Equal(t, rowLen, 50)

	var row RowIndexVal
	assert.NilError(t, driver.GetRow(299, &row))
	val, err := reader.Read(299)
	assert.NilError(t, err)
	assert.DeepEqual(t, val, row.Value)
}

func TestMissingKey(t *testing.T) {
	driver, err := NewServerDriver()
	assert.NilError(t, err)
	tc := smallTestConfig()
	var none int
	assert.NilError(t, driver.Configure(tc, &none))

	params, err := pir.GenParams(tc.PirConfig())
	assert.NilError(t, err)
	_, err = pir.NewPIRReader(pir.NewClient(params), driver).Read(3)
	assert.Assert(t, errors.Is(err, pir.ErrMissingGaloisKey), err)
}

func TestUnconfigured(t *testing.T) {
	driver, err := NewServerDriver()
	assert.NilError(t, err)
	var resp pir.QueryResp
	assert.Assert(t, driver.Answer(pir.QueryReq{}, &resp) != nil)
	var numRows int
	assert.Assert(t, driver.NumRows(0, &numRows) != nil)
}

func TestOverTCP(t *testing.T) {
	driver, err := NewServerDriver()
	assert.NilError(t, err)
	server, err := rpc.NewServer(0, nil)
	assert.NilError(t, err)
	defer server.Close()
	assert.NilError(t, server.RegisterName("PirServerDriver", driver))
	go server.Serve()

	addr := server.(interface{ Addr() net.Addr }).Addr().String()
	proxy, err := NewRpcProxy(addr, false, "", true)
	assert.NilError(t, err)
	defer proxy.Close()

	readPreset(t, proxy, smallTestConfig())

	var onlineBytes int
	assert.NilError(t, proxy.GetOnlineBytes(0, &onlineBytes))
	assert.Assert(t, onlineBytes > 0)
}

func TestRecordsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records")
	assert.NilError(t, os.WriteFile(path, []byte{1, 2, 3, 4, 5, 6, 7}, 0644))

	rows, err := RecordsFromFile(path, 3)
	assert.NilError(t, err)
	assert.DeepEqual(t, rows, []pir.Row{{1, 2, 3}, {4, 5, 6}, {7, 0, 0}})

	_, err = RecordsFromFile(path, 0)
	assert.Assert(t, err != nil)
	_, err = RecordsFromFile(filepath.Join(t.TempDir(), "missing"), 3)
	assert.Assert(t, err != nil)
}

func TestDBWatcher(t *testing.T) {
	driver, err := NewServerDriver()
	assert.NilError(t, err)
	tc := smallTestConfig()
	var none int
	assert.NilError(t, driver.Configure(tc, &none))

	params, err := pir.GenParams(tc.PirConfig())
	assert.NilError(t, err)
	client := pir.NewClient(params)
	reader := pir.NewPIRReader(client, driver)
	assert.NilError(t, reader.Init())

	src := pir.RandSource()
	data := make([]byte, 200*tc.RowLen)
	src.Read(data)
	path := filepath.Join(t.TempDir(), "records")
	assert.NilError(t, os.WriteFile(path, data, 0644))

	watcher, err := NewDBWatcher(driver, path, tc.RowLen)
	assert.NilError(t, err)
	defer watcher.Close()

	var numRows int
	assert.NilError(t, driver.NumRows(0, &numRows))
	assert.Equal(t, numRows, 200)
	resized, err := pir.UpdateParams(params, 200, tc.RowLen)
	assert.NilError(t, err)
	assert.NilError(t, client.UpdateParameters(resized))
	val, err := reader.Read(150)
	assert.NilError(t, err)
	assert.DeepEqual(t, val, pir.Row(data[150*tc.RowLen:151*tc.RowLen]))

	data = make([]byte, 120*tc.RowLen)
	src.Read(data)
	assert.NilError(t, os.WriteFile(path, data, 0644))

	deadline := time.Now().Add(10 * time.Second)
	for {
		assert.NilError(t, driver.NumRows(0, &numRows))
		var row RowIndexVal
		if numRows == 120 && driver.GetRow(119, &row) == nil &&
			bytes.Equal(row.Value, data[119*tc.RowLen:]) {
			break
		}
		assert.Assert(t, time.Now().Before(deadline), "database not reloaded, %d rows", numRows)
		time.Sleep(50 * time.Millisecond)
	}

	resized, err = pir.UpdateParams(params, 120, tc.RowLen)
	assert.NilError(t, err)
	assert.NilError(t, client.UpdateParameters(resized))
	val, err = reader.Read(119)
	assert.NilError(t, err)
	assert.DeepEqual(t, val, pir.Row(data[119*tc.RowLen:]))
}

func TestLoadRowsWhileReading(t *testing.T) {
	driver, err := NewServerDriver()
	assert.NilError(t, err)
	tc := smallTestConfig()
	var none int
	assert.NilError(t, driver.Configure(tc, &none))

	params, err := pir.GenParams(tc.PirConfig())
	assert.NilError(t, err)
	reader := pir.NewPIRReader(pir.NewClient(params), driver)
	assert.NilError(t, reader.Init())

	var before RowIndexVal
	assert.NilError(t, driver.GetRow(640, &before))
	replacement := pir.MakeRows(rand.New(rand.NewSource(3)), tc.NumRows, tc.RowLen)

	done := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		defer close(done)
		for i := 0; i < 3; i++ {
			if err := driver.LoadRows(replacement); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for reads := 0; ; reads++ {
			select {
			case <-done:
				if reads > 0 {
					return nil
				}
			default:
			}
			val, err := reader.Read(640)
			if err != nil {
				return err
			}
			if !bytes.Equal(val, before.Value) && !bytes.Equal(val, replacement[640]) {
				return fmt.Errorf("row 640 matches neither database")
			}
		}
	})
	assert.NilError(t, g.Wait())

	val, err := reader.Read(640)
	assert.NilError(t, err)
	assert.DeepEqual(t, val, replacement[640])
}
