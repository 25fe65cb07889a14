package driver

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"hepir/pir"
	"hepir/rpc"

	log "github.com/sirupsen/logrus"
)

type PirServerDriver interface {
	pir.QueryServer

	Configure(config TestConfig, none *int) error
	// Resize replaces the database with one of a new shape under the same ring, keeping
	// registered keys.
	Resize(config TestConfig, none *int) error

	GetRow(idx int, row *RowIndexVal) error
	NumRows(none int, out *int) error
	RowLen(none int, out *int) error
	NumKeys(none int, out *int) error

	ResetMetrics(none int, none2 *int) error
	GetPreprocessTimer(none int, out *time.Duration) error
	GetOfflineTimer(none int, out *time.Duration) error
	GetOnlineTimer(none int, out *time.Duration) error
	GetOfflineBytes(none int, out *int) error
	GetOnlineBytes(none int, out *int) error
}

type RowIndexVal struct {
	Index int
	Value pir.Row
}

type serverDriver struct {
	server *pir.Server
	config TestConfig

	randSource *rand.Rand

	mu sync.Mutex
	// For profiling
	preprocessTime            time.Duration
	keyTime, answerTime       time.Duration
	offlineBytes, onlineBytes int
}

func NewServerDriver() (*serverDriver, error) {
	return &serverDriver{randSource: pir.RandSource()}, nil
}

func (driver *serverDriver) Configure(config TestConfig, none *int) error {
	params, err := pir.GenParams(config.PirConfig())
	if err != nil {
		return err
	}
	if config.DataRandSeed > 0 {
		driver.randSource = rand.New(rand.NewSource(config.DataRandSeed))
	}

	server := pir.NewServer(params)
	server.SetWorkers(config.Workers)
	if err := driver.loadDB(server, params, config); err != nil {
		return err
	}
	driver.server = server
	driver.config = config
	log.Infof("Configured %s: %d plaintexts in a %v hypercube", config, params.NumPlaintexts, params.Nvec)

	driver.ResetMetrics(0, nil)
	return nil
}

func (driver *serverDriver) Resize(config TestConfig, none *int) error {
	if driver.server == nil {
		return fmt.Errorf("cannot Resize an unconfigured server")
	}
	params, err := pir.UpdateParams(driver.server.Params(), config.NumRows, config.RowLen)
	if err != nil {
		return err
	}
	driver.config.NumRows = config.NumRows
	driver.config.RowLen = config.RowLen
	driver.config.PresetRows = config.PresetRows
	if err := driver.loadDB(driver.server, params, driver.config); err != nil {
		return err
	}
	log.Infof("Resized database to %d rows of %d bytes", config.NumRows, config.RowLen)
	return nil
}

func (driver *serverDriver) loadDB(server *pir.Server, params *pir.Params, config TestConfig) error {
	rows := pir.MakeRows(driver.randSource, config.NumRows, config.RowLen)
	for _, preset := range config.PresetRows {
		if preset.Index >= len(rows) {
			return fmt.Errorf("preset row %d out of range [0, %d)", preset.Index, len(rows))
		}
		copy(rows[preset.Index], preset.Value)
	}
	return driver.loadRows(server, params, rows)
}

// loadRows swaps rows in as the database served under params. Replies in flight
// keep using the previous database until the new one is ready.
func (driver *serverDriver) loadRows(server *pir.Server, params *pir.Params, rows []pir.Row) error {
	start := time.Now()
	if err := server.ReplaceDatabase(params, pir.StaticDBFromRows(rows)); err != nil {
		return err
	}
	driver.mu.Lock()
	driver.preprocessTime = time.Since(start)
	driver.mu.Unlock()
	return nil
}

// LoadRows replaces the database of a configured driver with rows, reshaping the
// hypercube under the same ring. Registered keys stay valid.
func (driver *serverDriver) LoadRows(rows []pir.Row) error {
	if err := driver.ready(); err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("cannot load an empty database")
	}
	params, err := pir.UpdateParams(driver.server.Params(), len(rows), len(rows[0]))
	if err != nil {
		return err
	}
	if err := driver.loadRows(driver.server, params, rows); err != nil {
		return err
	}
	driver.config.NumRows = len(rows)
	driver.config.RowLen = len(rows[0])
	driver.config.PresetRows = nil
	log.Infof("Loaded database of %d rows of %d bytes", len(rows), len(rows[0]))
	return nil
}

func (driver *serverDriver) ready() error {
	if driver.server == nil {
		return fmt.Errorf("server driver is not configured")
	}
	return nil
}

func (driver *serverDriver) RegisterKey(req pir.KeyReq, none *int) error {
	if err := driver.ready(); err != nil {
		return err
	}
	start := time.Now()
	if err := driver.server.RegisterKey(req, none); err != nil {
		return err
	}
	elapsed := time.Since(start)

	reqSize := 0
	if driver.config.MeasureBandwidth {
		var err error
		if reqSize, err = rpc.SerializedSizeOf(req); err != nil {
			return err
		}
	}
	driver.mu.Lock()
	driver.keyTime += elapsed
	driver.offlineBytes += reqSize
	driver.mu.Unlock()
	return nil
}

func (driver *serverDriver) Answer(req pir.QueryReq, resp *pir.QueryResp) error {
	if err := driver.ready(); err != nil {
		return err
	}
	start := time.Now()
	if err := driver.server.Answer(req, resp); err != nil {
		return err
	}
	elapsed := time.Since(start)

	bytes := 0
	if driver.config.MeasureBandwidth {
		reqSize, err := rpc.SerializedSizeOf(req)
		if err != nil {
			return err
		}
		respSize, err := rpc.SerializedSizeOf(resp)
		if err != nil {
			return err
		}
		bytes = reqSize + respSize
	}
	driver.mu.Lock()
	driver.answerTime += elapsed
	driver.onlineBytes += bytes
	driver.mu.Unlock()
	return nil
}

func (driver *serverDriver) GetRow(idx int, row *RowIndexVal) error {
	if err := driver.ready(); err != nil {
		return err
	}
	db := driver.server.Database()
	if db == nil || idx < 0 || idx >= db.NumRows {
		return fmt.Errorf("row %d not in database", idx)
	}
	row.Index = idx
	row.Value = db.Row(idx)
	return nil
}

func (driver *serverDriver) NumRows(none int, out *int) error {
	if err := driver.ready(); err != nil {
		return err
	}
	*out = driver.server.Params().NumItems
	return nil
}

func (driver *serverDriver) RowLen(none int, out *int) error {
	if err := driver.ready(); err != nil {
		return err
	}
	*out = driver.server.Params().ItemSize
	return nil
}

func (driver *serverDriver) NumKeys(none int, out *int) error {
	if err := driver.ready(); err != nil {
		return err
	}
	*out = len(driver.server.KeyIndices())
	return nil
}

func (driver *serverDriver) GetPreprocessTimer(none int, out *time.Duration) error {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	*out = driver.preprocessTime
	return nil
}

func (driver *serverDriver) GetOfflineTimer(none int, out *time.Duration) error {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	*out = driver.keyTime
	return nil
}

func (driver *serverDriver) GetOnlineTimer(none int, out *time.Duration) error {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	*out = driver.answerTime
	return nil
}

func (driver *serverDriver) GetOfflineBytes(none int, out *int) error {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	*out = driver.offlineBytes
	return nil
}

func (driver *serverDriver) GetOnlineBytes(none int, out *int) error {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	*out = driver.onlineBytes
	return nil
}

func (driver *serverDriver) ResetMetrics(none int, none2 *int) error {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	driver.keyTime = 0
	driver.answerTime = 0
	driver.offlineBytes = 0
	driver.onlineBytes = 0
	return nil
}
