// Package watchlist supplies the symbols to analyze each cycle.
package watchlist

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"agentTrader/internal/ports"
)

// DefaultSymbols is used when no watchlist file is configured.
var DefaultSymbols = []string{"TSLA", "NVDA", "SPY", "QQQ", "AAPL", "MSFT", "GOOGL", "AMZN"}

// DefaultPerCycle is the number of symbols handed out per analysis cycle.
const DefaultPerCycle = 3

// File is the on-disk watchlist format.
type File struct {
	Symbols  []string `yaml:"symbols"`
	PerCycle int      `yaml:"per_cycle"`
	Shuffle  *bool    `yaml:"shuffle"`
}

// Config holds configuration for the watchlist source.
type Config struct {
	Path     string // Optional YAML file; DefaultSymbols when empty
	PerCycle int    // Overrides the file's per_cycle when positive
	Rand     *rand.Rand
	Logger   ports.Logger
}

// Source implements ports.OpportunitySource.
type Source struct {
	symbols  []string
	perCycle int
	shuffle  bool
	logger   ports.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// Load reads and validates a watchlist file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watchlist %s: %w: %w", path, ports.ErrConfigurationError, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse watchlist %s: %w: %w", path, ports.ErrConfigurationError, err)
	}
	f.Symbols = normalize(f.Symbols)
	if len(f.Symbols) == 0 {
		return nil, fmt.Errorf("watchlist %s has no symbols: %w", path, ports.ErrConfigurationError)
	}
	if f.PerCycle < 0 {
		return nil, fmt.Errorf("watchlist %s: per_cycle must not be negative: %w", path, ports.ErrConfigurationError)
	}
	return &f, nil
}

// New creates a watchlist source.
func New(cfg Config) (*Source, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for watchlist")
	}
	s := &Source{
		symbols:  append([]string(nil), DefaultSymbols...),
		perCycle: DefaultPerCycle,
		shuffle:  true,
		logger:   cfg.Logger,
		rnd:      cfg.Rand,
	}
	if cfg.Path != "" {
		f, err := Load(cfg.Path)
		if err != nil {
			return nil, err
		}
		s.symbols = f.Symbols
		if f.PerCycle > 0 {
			s.perCycle = f.PerCycle
		}
		if f.Shuffle != nil {
			s.shuffle = *f.Shuffle
		}
	}
	if cfg.PerCycle > 0 {
		s.perCycle = cfg.PerCycle
	}
	if s.rnd == nil {
		s.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	cfg.Logger.Info(context.Background(), "Watchlist loaded", map[string]interface{}{
		"symbols":  len(s.symbols),
		"perCycle": s.perCycle,
		"shuffle":  s.shuffle,
	})
	return s, nil
}

// Symbols returns the full watchlist in file order.
func (s *Source) Symbols() []string {
	return append([]string(nil), s.symbols...)
}

// Opportunities returns up to perCycle symbols, shuffled when enabled.
func (s *Source) Opportunities(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("opportunities: %w: %w", ports.ErrContextCanceled, err)
	}
	out := append([]string(nil), s.symbols...)
	if s.shuffle {
		s.mu.Lock()
		s.rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		s.mu.Unlock()
	}
	if len(out) > s.perCycle {
		out = out[:s.perCycle]
	}
	s.logger.Debug(ctx, "Opportunities selected", map[string]interface{}{"symbols": strings.Join(out, ",")})
	return out, nil
}

// normalize upper-cases symbols and drops blanks and duplicates.
func normalize(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, sym := range in {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

var _ ports.OpportunitySource = (*Source)(nil)
