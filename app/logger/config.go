package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/exp/slices"
)

// EnvLevels overrides Config.Levels, see LevelsFromStr for the format
const EnvLevels = "ECHO_LOG_LEVEL"

type Format string

const (
	FormatColor Format = "color"
	FormatPlain Format = "plain"
	FormatJSON  Format = "json"
)

type NamedLevel struct {
	Name  string `yaml:"name"`
	Level string `yaml:"level"`
}

type Config struct {
	Production    bool         `yaml:"production"`
	DefaultLevel  string       `yaml:"defaultLevel"`
	Levels        []NamedLevel `yaml:"levels"` // first match wins
	OutputPaths   []string     `yaml:"outputPaths"`
	DisableStdErr bool         `yaml:"disableStdErr"`
	Format        Format       `yaml:"format"`
}

func (l Config) zapConfig() zap.Config {
	conf := zap.NewDevelopmentConfig()
	if l.Production {
		conf = zap.NewProductionConfig()
	}
	conf.Encoding, conf.EncoderConfig = l.Format.encoder(conf.EncoderConfig)
	conf.OutputPaths = append(slices.Clone(conf.OutputPaths), l.OutputPaths...)
	if l.DisableStdErr {
		conf.OutputPaths = slices.DeleteFunc(conf.OutputPaths, func(path string) bool {
			return path == "stderr"
		})
	}
	if lvl, err := zap.ParseAtomicLevel(l.DefaultLevel); err == nil {
		conf.Level = lvl
	}
	return conf
}

func (f Format) encoder(base zapcore.EncoderConfig) (string, zapcore.EncoderConfig) {
	switch f {
	case FormatPlain:
		base.EncodeLevel = zapcore.CapitalLevelEncoder
		return "console", base
	case FormatJSON:
		base.MessageKey, base.TimeKey, base.LevelKey = "msg", "ts", "level"
		base.NameKey, base.CallerKey = "logger", "caller"
		base.EncodeTime = zapcore.ISO8601TimeEncoder
		return "json", base
	default:
		base.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return "console", base
	}
}

// ApplyGlobal builds the root logger and re-levels every named logger
func (l Config) ApplyGlobal() {
	if env := os.Getenv(EnvLevels); env != "" {
		l.Levels = LevelsFromStr(env)
	}
	if err := setConfig(l.zapConfig()); err != nil {
		Default().Fatal("can't build logger", zap.Error(err))
	}
	SetNamedLevels(l.Levels)
}

// LevelsFromStr parses "pipeline=DEBUG;net.*=WARN;ERROR", a bare level applies to "*"
func LevelsFromStr(s string) (levels []NamedLevel) {
	for _, kv := range strings.Split(s, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		name, level, ok := strings.Cut(kv, "=")
		if !ok {
			name, level = "*", kv
		}
		if _, err := zap.ParseAtomicLevel(level); err != nil {
			Default().Warn("can't parse log level", zap.String("level", kv), zap.Error(err))
			continue
		}
		levels = append(levels, NamedLevel{Name: name, Level: level})
	}
	return levels
}
