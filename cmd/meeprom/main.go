package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mvaleed/meeprom/internal/config"
	"github.com/mvaleed/meeprom/internal/flash"
	"github.com/mvaleed/meeprom/internal/meeprom"
)

const usage = `usage: meeprom [-config FILE] [-v] COMMAND [ARGS]

commands:
  format              erase both pages and start an empty store
  info                print page states, free slots and live values
  get ADDR            print the value of ADDR
  set ADDR VALUE      write VALUE to ADDR
  dump [N]            print the active page log (first N elements)
  export FILE         write the image as Intel HEX
  import FILE         program an Intel HEX file into the image
  replay              apply a batch left in the staging sector
`

var commands = map[string]bool{
	"format": true,
	"info":   true,
	"get":    true,
	"set":    true,
	"dump":   true,
	"export": true,
	"import": true,
	"replay": true,
}

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults apply when empty)")
	verbose := flag.Bool("v", false, "log recovery and compaction details")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		log = l
	}
	defer log.Sync() //nolint:errcheck

	if err := run(*configPath, log, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "meeprom: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func run(configPath string, log *zap.Logger, args []string) error {
	if !commands[args[0]] {
		return errors.Errorf("unknown command %q", args[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	dev, err := cfg.OpenImage()
	if err != nil {
		return err
	}
	defer dev.Close()

	store := meeprom.New(dev, cfg.StoreConfig(log))
	cmd, args := args[0], args[1:]

	switch cmd {
	case "format":
		if err := store.Format(); err != nil {
			return err
		}
		fmt.Println("formatted")
		return nil

	case "export":
		if len(args) != 1 {
			return errors.New("export needs a file name")
		}
		f, err := os.Create(args[0])
		if err != nil {
			return errors.WithStack(err)
		}
		defer f.Close()
		return flash.ExportHex(f, dev, dev.Base(), dev.Size())

	case "import":
		if len(args) != 1 {
			return errors.New("import needs a file name")
		}
		f, err := os.Open(args[0])
		if err != nil {
			return errors.WithStack(err)
		}
		defer f.Close()
		n, err := flash.ImportHex(dev, f)
		if err != nil {
			return err
		}
		fmt.Printf("programmed %d double words\n", n)
		return nil
	}

	if err := store.Init(); err != nil {
		if errors.Is(err, meeprom.ErrInvalidHeader) {
			return errors.Wrap(err, "no usable store in image, run format")
		}
		return err
	}

	switch cmd {
	case "info":
		return info(store)

	case "get":
		if len(args) != 1 {
			return errors.New("get needs an address")
		}
		address, err := parseWord(args[0])
		if err != nil {
			return err
		}
		v, err := store.ReadWord(address)
		if err != nil {
			return err
		}
		fmt.Printf("%d: 0x%08X\n", address, v)
		return nil

	case "set":
		if len(args) != 2 {
			return errors.New("set needs an address and a value")
		}
		address, err := parseWord(args[0])
		if err != nil {
			return err
		}
		value, err := parseWord(args[1])
		if err != nil {
			return err
		}
		res, err := store.WriteWord(address, value)
		if err != nil {
			return err
		}
		if res.Compacted {
			fmt.Println("page compacted")
		}
		return nil

	case "dump":
		head := 0
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.Wrapf(err, "invalid element count %q", args[0])
			}
			head = n
		}
		return store.Dump(os.Stdout, head)

	case "replay":
		stage, ok := cfg.Stage(dev)
		if !ok {
			return errors.New("no staging sector configured")
		}
		n, err := store.ReplayStaged(stage)
		if err != nil {
			return err
		}
		fmt.Printf("replayed %d pairs\n", n)
		return nil
	}

	return errors.Errorf("unknown command %q", cmd)
}

func info(store *meeprom.Store) error {
	page, err := store.ActivePage()
	if err != nil {
		return err
	}
	free, err := store.FreeSlots()
	if err != nil {
		return err
	}
	values, err := store.Values()
	if err != nil {
		return err
	}

	fmt.Printf("active page: %d @ 0x%08X\n", page, store.PageBase(page))
	fmt.Printf("free slots:  %d\n", free)
	fmt.Printf("live values: %d of %d\n", len(values), store.MaxAddress())
	return nil
}

func parseWord(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid number %q", s)
	}
	return uint32(v), nil
}
