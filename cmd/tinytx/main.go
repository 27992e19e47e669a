package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/tuannm99/tinytx/internal"
	"github.com/tuannm99/tinytx/internal/engine"
)

type cli struct {
	Config string `help:"Path to a YAML config file." type:"path" short:"c"`
	Dir    string `help:"Data directory (overrides config)." default:""`

	Demo DemoCmd `cmd:"" help:"Run the crash and recovery walkthrough."`
	Log  LogCmd  `cmd:"" help:"Decode and print the transaction journal."`
}

type runContext struct {
	dir  string
	opts []engine.Option
}

func (c *cli) runContext() (*runContext, error) {
	rc := &runContext{dir: "./data"}

	if c.Config != "" {
		cfg, err := internal.LoadConfig(c.Config)
		if err != nil {
			return nil, err
		}
		rc.dir = cfg.Storage.Workdir
		rc.opts = append(rc.opts,
			engine.WithName(cfg.Storage.Database),
			engine.WithPoolCapacity(cfg.Storage.PoolCapacity),
		)
	}
	if c.Dir != "" {
		rc.dir = c.Dir
	}
	return rc, nil
}

type DemoCmd struct{}

// Run walks through the engine's crash and recovery path: populate, checkpoint,
// commit one transaction, crash in the middle of another, then recover.
func (d *DemoCmd) Run(rc *runContext) error {
	db, err := engine.Open(rc.dir, rc.opts...)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	for _, name := range []string{"Alice", "Bob", "Charlie"} {
		recordID, err := db.Insert([]byte(name))
		if err != nil {
			return err
		}
		fmt.Printf("insert %-8q -> record %d\n", name, recordID)
	}
	if err := db.Checkpoint(); err != nil {
		return err
	}
	fmt.Println("checkpoint")

	if err := db.Begin(); err != nil {
		return err
	}
	if err := db.Update(0, []byte("Alice*")); err != nil {
		return err
	}
	if err := db.Commit(); err != nil {
		return err
	}
	fmt.Printf("tx %d: update record 0 -> %q, committed\n", db.CurrentTxID(), "Alice*")

	if err := db.Begin(); err != nil {
		return err
	}
	if err := db.Update(1, []byte("Bob*")); err != nil {
		return err
	}
	if _, err := db.Insert([]byte("Dave")); err != nil {
		return err
	}
	fmt.Printf("tx %d: update record 1, insert %q, NOT committed\n", db.CurrentTxID(), "Dave")

	if err := db.Crash(); err != nil {
		return err
	}
	fmt.Println("crash: volatile state dropped, files intact")

	if err := db.Recover(); err != nil {
		return err
	}
	fmt.Println("recover: committed work replayed, the rest undone")

	for recordID := 0; uint64(recordID) < db.RecordCount(); recordID++ {
		data, err := db.Read(recordID)
		if err != nil {
			return err
		}
		fmt.Printf("record %d: %q\n", recordID, data)
	}
	return nil
}

type LogCmd struct{}

func (l *LogCmd) Run(rc *runContext) error {
	db, err := engine.Open(rc.dir, rc.opts...)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	records, err := db.Log()
	if err != nil {
		return err
	}
	for _, rec := range records {
		fmt.Println(rec)
	}
	return nil
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	var c cli
	ctx := kong.Parse(&c,
		kong.Name("tinytx"),
		kong.Description("A tiny transactional record store with write-ahead logging."),
	)

	rc, err := c.runContext()
	ctx.FatalIfErrorf(err)
	ctx.FatalIfErrorf(ctx.Run(rc))
}
