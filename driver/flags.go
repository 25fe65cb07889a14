package driver

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"hepir/pir"
	"hepir/rpc"

	log "github.com/sirupsen/logrus"
)

type Config struct {
	TestConfig

	UseTLS     bool
	CpuProfile string
	LogLevel   string

	// For client
	ServerAddr    string
	UsePersistent bool
	CAFile        string

	// For server
	Port     int
	CertFile string
	KeyFile  string

	// For benchmarks
	NumQueries    int
	LatenciesFile string

	modeStr string

	FlagSet *flag.FlagSet
}

func (c *Config) AddPirFlags() *Config {
	def := pir.DefaultConfig()
	c.FlagSet = flag.CommandLine
	c.FlagSet.IntVar(&c.NumRows, "numRows", def.NumItems, "Num DB Rows")
	c.FlagSet.IntVar(&c.RowLen, "rowLen", def.ItemSize, "Row length in bytes")
	c.FlagSet.IntVar(&c.N, "N", def.N, "Ring degree, a power of two")
	c.FlagSet.IntVar(&c.Logt, "logt", def.Logt, "Bit width of the plaintext modulus")
	c.FlagSet.IntVar(&c.D, "d", def.D, "Number of hypercube dimensions")
	c.FlagSet.StringVar(&c.modeStr, "mode", def.Mode.String(),
		fmt.Sprintf("Query mode: [%s]", strings.Join(QueryModeStrings(), "|")))
	c.FlagSet.IntVar(&c.Workers, "workers", 0, "Goroutines per reduction round (default: GOMAXPROCS)")
	c.FlagSet.Int64Var(&c.DataRandSeed, "seed", 0, "Seed for the random database contents")
	c.FlagSet.StringVar(&c.CpuProfile, "cpuprofile", "", "write cpu profile to `file`")
	c.FlagSet.StringVar(&c.LogLevel, "logLevel", log.InfoLevel.String(), "Log level")
	return c
}

func (c *Config) AddClientFlags() *Config {
	c.FlagSet.StringVar(&c.ServerAddr, "serverAddr", "", "<HOSTNAME>:<PORT> of server for RPC test")
	c.FlagSet.BoolVar(&c.UseTLS, "tls", false, "Should use TLS")
	c.FlagSet.BoolVar(&c.UsePersistent, "persistent", true, "Should use peristent connection to server")
	c.FlagSet.StringVar(&c.CAFile, "caFile", "", "PEM `file` of CA certificates to verify the server with (default: no verification)")
	return c
}

func (c *Config) AddServerFlags() *Config {
	c.FlagSet.BoolVar(&c.UseTLS, "tls", false, "Should use TLS")
	c.FlagSet.StringVar(&c.CertFile, "cert", "", "PEM certificate `file` for TLS")
	c.FlagSet.StringVar(&c.KeyFile, "key", "", "PEM private key `file` for TLS")
	c.FlagSet.IntVar(&c.Port, "p", 12345, "Listening port")
	return c
}

func (c *Config) AddBenchmarkFlags() *Config {
	c.FlagSet.IntVar(&c.NumQueries, "q", 10, "Number of queries to do")
	c.FlagSet.StringVar(&c.LatenciesFile, "latenciesFile", "", "Latencies output filename")
	c.MeasureBandwidth = true
	return c
}

func (c *Config) Parse() *Config {
	if c.FlagSet.Parsed() {
		return c
	}
	if err := c.FlagSet.Parse(os.Args[1:]); err != nil {
		log.Fatalf("%v", err)
	}
	var err error
	c.Mode, err = pir.QueryModeString(c.modeStr)
	if err != nil {
		log.Fatalf("Bad query mode: %s", c.modeStr)
	}
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.Fatalf("Bad log level: %s", c.LogLevel)
	}
	log.SetLevel(level)
	return c
}

func (c *Config) ServerDriver() (PirServerDriver, error) {
	c.Parse()

	if c.ServerAddr != "" {
		return NewRpcProxy(c.ServerAddr, c.UseTLS, c.CAFile, c.UsePersistent)
	}
	return NewServerDriver()
}

// TLSFiles is nil unless the server should serve over HTTPS.
func (c *Config) TLSFiles() *rpc.TLSFiles {
	if !c.UseTLS {
		return nil
	}
	return &rpc.TLSFiles{CertFile: c.CertFile, KeyFile: c.KeyFile}
}

func (c *Config) String() string {
	return c.TestConfig.String()
}

func QueryModeStrings() []string {
	vals := pir.QueryModeValues()
	strs := make([]string, len(vals))
	for i, val := range vals {
		strs[i] = val.String()
	}
	return strs
}
