package main

import (
	"os"
	"os/signal"
	"syscall"

	"hepir/driver"
	"hepir/rpc"

	log "github.com/sirupsen/logrus"
)

func main() {
	config := new(driver.Config).AddPirFlags().AddServerFlags()
	configure := config.FlagSet.Bool("configure", false, "Build a database from the PIR flags before serving")
	dbFile := config.FlagSet.String("dbFile", "", "Serve the rowLen-byte records of `file`, reloading on change (implies -configure)")
	config.Parse()

	prof := driver.NewProfiler(config.CpuProfile)
	defer prof.Close()

	pirDriver, err := driver.NewServerDriver()
	if err != nil {
		log.Fatalf("Failed to create server: %s", err)
	}
	if *configure || *dbFile != "" {
		var none int
		if err := pirDriver.Configure(config.TestConfig, &none); err != nil {
			log.Fatalf("Failed to configure server: %s", err)
		}
	}
	if *dbFile != "" {
		watcher, err := driver.NewDBWatcher(pirDriver, *dbFile, config.RowLen)
		if err != nil {
			log.Fatalf("Failed to load %s: %s", *dbFile, err)
		}
		defer watcher.Close()
	}

	server, err := rpc.NewServer(config.Port, config.TLSFiles())
	if err != nil {
		log.Fatalf("Failed to create RPC server: %s", err)
	}
	if err := server.RegisterName("PirServerDriver", pirDriver); err != nil {
		log.Fatalf("Failed to register PIRServer, %s", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		server.Close()
	}()

	if err := server.Serve(); err != nil {
		log.Fatalf("Failed to serve: %s", err)
	}
	log.Info("Server shutdown")
}
