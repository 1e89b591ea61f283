// Command dbireg connects through the configured driver, runs one statement
// and prints the result-set snapshot and fetched columns as YAML. With -serve
// it keeps the connection open and exposes the registry over HTTP.
//
// Usage:
//
//	dbireg -config dbireg.yaml -query "SELECT * FROM users" [-n 100]
//	dbireg -config dbireg.yaml -tables
//	dbireg -config dbireg.yaml -serve
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/koustreak/dbireg/internal/config"
	"github.com/koustreak/dbireg/internal/database"
	"github.com/koustreak/dbireg/internal/database/mysql"
	"github.com/koustreak/dbireg/internal/database/postgres"
	"github.com/koustreak/dbireg/internal/fields"
	"github.com/koustreak/dbireg/internal/logger"
	"github.com/koustreak/dbireg/internal/registry"
	"github.com/koustreak/dbireg/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	query := flag.String("query", "", "statement to execute")
	limit := flag.Int("n", -1, "rows to fetch, negative for all")
	tables := flag.Bool("tables", false, "list the tables of the connected database")
	serve := flag.Bool("serve", false, "serve the registry over HTTP until interrupted")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *query, *limit, *tables, *serve, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "dbireg: %v\n", err)
		os.Exit(1)
	}
}

func openerFor(d database.Driver) (database.Opener, error) {
	switch d {
	case database.DriverMySQL:
		return mysql.New(), nil
	case database.DriverPostgres:
		return postgres.New(), nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", d)
	}
}

func run(ctx context.Context, configPath, query string, limit int, tables, serve bool, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.New(&cfg.Log)
	logger.SetGlobal(log)

	opener, err := openerFor(cfg.Database.Driver)
	if err != nil {
		return err
	}
	cfg.Registry.DriverName = opener.Name()

	reg, err := registry.New(&cfg.Registry, registry.WithLogger(log))
	if err != nil {
		return err
	}
	layer, err := database.NewLayer(reg, opener, &cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := layer.Close(context.Background()); err != nil {
			log.ErrorWith("shutdown failed", err, nil)
		}
	}()

	ch, err := layer.Connect(ctx, &cfg.Database)
	if err != nil {
		return err
	}

	if tables {
		names, err := layer.ListTables(ctx, ch)
		if err != nil {
			return err
		}
		if err := writeYAML(out, map[string][]string{"tables": names}); err != nil {
			return err
		}
	}

	if query != "" {
		rep, err := runQuery(ctx, layer, ch, query, limit)
		if err != nil {
			return err
		}
		if err := writeYAML(out, rep); err != nil {
			return err
		}
	}

	if serve {
		return serveRegistry(ctx, layer, cfg.Server.Addr, log)
	}
	return nil
}

// --- query report ---

type column struct {
	Name   string `yaml:"name"`
	Class  string `yaml:"class"`
	Values []any  `yaml:"values"`
}

type report struct {
	Connection *registry.ConnectionInfo `yaml:"connection"`
	ResultSet  *registry.ResultSetInfo  `yaml:"resultSet"`
	Columns    []column                 `yaml:"columns,omitempty"`
}

func runQuery(ctx context.Context, layer *database.Layer, ch registry.Handle, stmt string, limit int) (*report, error) {
	reg := layer.Registry()

	rh, err := layer.Execute(ctx, ch, stmt)
	if err != nil {
		return nil, err
	}
	defer func() { _ = layer.ClearResult(ctx, rh) }()

	var data *fields.Output
	if rs, err := reg.ResultSet(rh); err == nil && rs.IsSelect == registry.True {
		if data, err = layer.Fetch(ctx, rh, limit); err != nil {
			return nil, err
		}
	}

	rep := &report{}
	if rep.ResultSet, err = reg.ResultSetInfo(rh); err != nil {
		return nil, err
	}
	if rep.Connection, err = reg.ConnectionInfo(ch); err != nil {
		return nil, err
	}
	if data != nil {
		for _, v := range data.Columns {
			rep.Columns = append(rep.Columns, column{Name: v.Name, Class: v.Class.String(), Values: v.Slice()})
		}
	}
	return rep, nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// --- inspection server ---

func serveRegistry(ctx context.Context, layer *database.Layer, addr string, log *logger.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(layer.Registry(), layer.Manager(), server.WithLogger(log)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.With().Str("addr", addr).Logger().Info("inspection server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
