package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/makemagic/internal/catalog"
	"github.com/marcus/makemagic/internal/config"
	"github.com/marcus/makemagic/internal/logging"
	"github.com/marcus/makemagic/internal/magic"
	"github.com/marcus/makemagic/internal/store"
)

// loadConfig reads and validates config, applying global flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(file)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if path, _ := cmd.Flags().GetString("catalog"); path != "" {
		cfg.Catalog.Path = path
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// initLogging sets up the global logger. Commands other than serve log to
// file only unless --verbose is set.
func initLogging(cmd *cobra.Command, cfg *config.Config, console bool) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	return logging.Init(logging.Config{
		Level:         level,
		Path:          cfg.Logging.Path,
		Format:        cfg.Logging.Format,
		RetentionDays: cfg.Logging.RetentionDays,
		Console:       console || verbose,
	})
}

// openStore opens the configured store backend.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), nil
	default:
		s, err := store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return s, nil
	}
}

// openEngine sets up logging, the store and the catalog. A missing catalog
// is only an error when requireCatalog is set.
func openEngine(cmd *cobra.Command, requireCatalog bool) (*magic.Engine, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := initLogging(cmd, cfg, false); err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		if requireCatalog {
			return nil, nil, err
		}
		logging.Component("cli").Debugf("no catalog loaded: %v", err)
		cat = nil
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = st.Close()
		_ = logging.Get().Close()
	}
	return magic.New(cat, st), cleanup, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseAssignments turns key=value arguments into a document. Values that
// parse as JSON keep their JSON type; anything else is a string.
func parseAssignments(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		out[key] = parseValue(raw)
	}
	return out, nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// splitList splits comma separated flag values and drops empties.
func splitList(values []string) []string {
	out := []string{}
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func notFoundHint(err error, uuid string) error {
	if errors.Is(err, magic.ErrTaskNotFound) {
		return fmt.Errorf("task %s not found\nRun 'magic task list' to see stored tasks", uuid)
	}
	return err
}

func fileOrStdin(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}
