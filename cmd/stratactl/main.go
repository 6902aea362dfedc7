// stratactl is an interactive shell over the storage core: it pins, mutates
// and flushes raw blocks, which is handy when inspecting block files or
// exercising eviction behavior by hand.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/strata-db/strata/config"
	buffermanager "github.com/strata-db/strata/core/storage/buffer_manager"
	diskmanager "github.com/strata-db/strata/core/storage/disk_manager"
	pagemanager "github.com/strata-db/strata/core/storage/page_manager"
	"github.com/strata-db/strata/pkg/logger"
	"github.com/strata-db/strata/pkg/telemetry"
)

const helpText = `commands:
  alloc <file>                  append a zeroed block, print its id
  read <file> <index>           pin a block and print its payload
  write <file> <index> <text>   store text at the start of a block's payload
  flush <file> <index>          force a resident block to disk
  flushall                      flush every dirty frame and sync
  close <file>                  release the file handle
  stats                         pool occupancy and dirty count
  help                          this text
  quit                          flush all and exit
`

type shell struct {
	pool *buffermanager.BufferPoolManager
	disk diskmanager.DiskManager
}

func main() {
	configPath := flag.String("config", "", "path to a yaml config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	// The shell addresses arbitrary blocks, so reads of not-yet-written
	// files should observe zeroes instead of failing.
	cfg.Storage.Disk.CreateOnRead = true

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	tel, telShutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		log.Fatal("telemetry setup failed", zap.Error(err))
	}
	defer telShutdown(context.Background())

	metrics, err := buffermanager.NewMetrics(tel.Meter)
	if err != nil {
		log.Fatal("metrics setup failed", zap.Error(err))
	}

	disk, err := diskmanager.NewFileDiskManager(cfg.Storage.Disk, log)
	if err != nil {
		log.Fatal("disk manager setup failed", zap.Error(err))
	}
	defer disk.Close()

	replacer, err := buffermanager.NewReplacer(buffermanager.Policy(cfg.Storage.EvictionPolicy))
	if err != nil {
		log.Fatal("replacer setup failed", zap.Error(err))
	}
	pool, err := buffermanager.NewBufferPoolManager(cfg.Storage.PoolSize, disk, replacer, log, metrics)
	if err != nil {
		log.Fatal("buffer pool setup failed", zap.Error(err))
	}

	flusher := buffermanager.NewFlusher(pool, cfg.Storage.Flusher, log)
	flusher.Start(context.Background())
	defer flusher.Stop()

	rl, err := readline.New("strata> ")
	if err != nil {
		log.Fatal("readline setup failed", zap.Error(err))
	}
	defer rl.Close()

	sh := &shell{pool: pool, disk: disk}
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Error("readline failed", zap.Error(err))
			break
		}
		if quit := sh.dispatch(strings.Fields(strings.TrimSpace(line))); quit {
			break
		}
	}

	if err := pool.FlushAll(); err != nil {
		log.Error("final flush failed", zap.Error(err))
	}
}

// dispatch runs one command; it returns true when the shell should exit.
func (s *shell) dispatch(args []string) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "quit", "exit":
		return true
	case "help":
		fmt.Print(helpText)
	case "alloc":
		s.alloc(args[1:])
	case "read":
		s.read(args[1:])
	case "write":
		s.write(args[1:])
	case "flush":
		s.flush(args[1:])
	case "flushall":
		s.report(s.pool.FlushAll())
	case "close":
		if len(args) != 2 {
			fmt.Println("usage: close <file>")
			return false
		}
		s.report(s.disk.CloseFile(args[1]))
	case "stats":
		fmt.Printf("pool %s: %d/%d frames resident, %d dirty\n",
			s.pool.ID(), s.pool.ResidentCount(), s.pool.PoolSize(), len(s.pool.DirtyBlocks()))
	default:
		fmt.Printf("unknown command %q, try help\n", args[0])
	}
	return false
}

func (s *shell) alloc(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: alloc <file>")
		return
	}
	pg, err := s.pool.AllocatePage(args[0])
	if err != nil {
		s.report(err)
		return
	}
	block := pg.BlockID()
	s.report(s.pool.UnpinPage(block, true))
	fmt.Printf("allocated %s\n", block)
}

func (s *shell) read(args []string) {
	block, ok := parseBlock(args, 2)
	if !ok {
		fmt.Println("usage: read <file> <index>")
		return
	}
	pg, err := s.pool.FetchPage(block)
	if err != nil {
		s.report(err)
		return
	}
	payload := strings.TrimRight(string(pg.Payload()), "\x00")
	fmt.Printf("%s pins=%d dirty=%t payload=%q\n", block, pg.PinCount(), pg.IsDirty(), payload)
	s.report(s.pool.UnpinPage(block, false))
}

func (s *shell) write(args []string) {
	block, ok := parseBlock(args, 3)
	if !ok {
		fmt.Println("usage: write <file> <index> <text>")
		return
	}
	text := strings.Join(args[2:], " ")
	if len(text) > pagemanager.PayloadSize {
		fmt.Printf("text exceeds payload size (%d bytes)\n", pagemanager.PayloadSize)
		return
	}
	pg, err := s.pool.FetchPage(block)
	if err != nil {
		s.report(err)
		return
	}
	pg.Lock()
	copy(pg.Payload(), text)
	pg.Unlock()
	s.report(s.pool.UnpinPage(block, true))
}

func (s *shell) flush(args []string) {
	block, ok := parseBlock(args, 2)
	if !ok {
		fmt.Println("usage: flush <file> <index>")
		return
	}
	s.report(s.pool.FlushPage(block))
}

func (s *shell) report(err error) {
	if err != nil {
		fmt.Println("error:", err)
	}
}

// parseBlock interprets args as <file> <index> [...], expecting at least min
// entries.
func parseBlock(args []string, min int) (pagemanager.BlockID, bool) {
	if len(args) < min {
		return pagemanager.BlockID{}, false
	}
	index, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return pagemanager.BlockID{}, false
	}
	return pagemanager.BlockIDForIndex(args[0], index), true
}
