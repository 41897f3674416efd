package logger

import (
	"sync"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu           sync.Mutex
	logger       *zap.Logger
	loggerConfig zap.Config
	defaultLevel zapcore.Level
	namedLevels  []namedLevel
	// namedLoggers are re-leveled in place, package level loggers are created before the config is applied
	namedLoggers = make(map[string]CtxLogger)
)

type namedLevel struct {
	name  string
	glob  glob.Glob
	level zap.AtomicLevel
}

func (nl namedLevel) match(name string) bool {
	return nl.name == name || (nl.glob != nil && nl.glob.Match(name))
}

func init() {
	loggerConfig = zap.NewDevelopmentConfig()
	defaultLevel = loggerConfig.Level.Level()
	logger, _ = loggerConfig.Build()
}

// setConfig replaces the root logger, named loggers pick it up on the next SetNamedLevels
func setConfig(conf zap.Config) error {
	lg, err := conf.Build()
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	loggerConfig = conf
	defaultLevel = conf.Level.Level()
	*logger = *lg
	return nil
}

// SetNamedLevels sets levels of named loggers. Names may be glob patterns like "echo.*",
// the first matching entry wins. Entries with invalid levels are skipped.
func SetNamedLevels(nls []NamedLevel) {
	mu.Lock()
	defer mu.Unlock()
	namedLevels = namedLevels[:0]

	minLevel := defaultLevel
	for _, nl := range nls {
		l, err := zap.ParseAtomicLevel(nl.Level)
		if err != nil {
			continue
		}
		entry := namedLevel{name: nl.Name, level: l}
		if g, err := glob.Compile(nl.Name); err == nil {
			entry.glob = g
		}
		namedLevels = append(namedLevels, entry)
		minLevel = min(minLevel, l.Level())
	}

	// the root core must pass everything a named logger may enable
	if minLevel != logger.Level() {
		conf := loggerConfig
		conf.Level = zap.NewAtomicLevelAt(minLevel)
		if lg, err := conf.Build(); err == nil {
			*logger = *lg
		}
	}
	for name, nl := range namedLoggers {
		*(nl.Logger) = *newNamedCore(name)
	}
}

func Default() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

func getLevel(name string) zap.AtomicLevel {
	for _, nl := range namedLevels {
		if nl.match(name) {
			return nl.level
		}
	}
	return zap.NewAtomicLevelAt(defaultLevel)
}

func newNamedCore(name string) *zap.Logger {
	return zap.New(logger.Core()).Named(name).WithOptions(zap.IncreaseLevel(getLevel(name)))
}

// NewNamed returns the logger registered under the name, creating it on the first call
func NewNamed(name string) CtxLogger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := namedLoggers[name]; ok {
		return l
	}
	l := CtxLogger{Logger: newNamedCore(name), name: name}
	namedLoggers[name] = l
	return l
}
