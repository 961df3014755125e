package app

import (
	"log"
	"strings"

	"github.com/asticode/go-astiav"
	"github.com/flavioribeiro/grainsmith/internal/controllers/decoders"
	"github.com/flavioribeiro/grainsmith/internal/controllers/engine"
	"github.com/flavioribeiro/grainsmith/internal/controllers/readers"
	"github.com/flavioribeiro/grainsmith/internal/controllers/writers"
	"github.com/flavioribeiro/grainsmith/internal/entities"
	"github.com/flavioribeiro/grainsmith/internal/mapper"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Dependencies wires every constructor the tool needs. Readers and writers
// join their value groups here; the engine controller collects them.
func Dependencies() fx.Option {
	var c entities.Config
	err := envconfig.Process("grainsmith", &c)
	if err != nil {
		log.Fatal(err.Error())
	}

	return fx.Options(
		// Packet readers
		fx.Provide(readers.NewIVFReader),
		fx.Provide(readers.NewMP4Reader),
		fx.Provide(readers.NewLibAVFFmpegReader),

		// Packet writers
		fx.Provide(writers.NewIVFWriter),
		fx.Provide(writers.NewLibAVFFmpegWriter),

		// Decoders
		fx.Provide(decoders.NewLibAVFFmpegDecoder),

		fx.Provide(engine.NewGrainEngineController),

		// Mappers
		fx.Provide(mapper.NewMapper),

		// Logging, Config constructors
		fx.Provide(func() *zap.SugaredLogger {
			if c.Debug {
				logger, _ := zap.NewDevelopment()
				return logger.Sugar()
			}
			logger, _ := zap.NewProduction()
			return logger.Sugar()
		}),
		fx.Provide(func() *entities.Config {
			return &c
		}),

		fx.Invoke(setupLibAVLogging),
	)
}

// setupLibAVLogging routes ffmpeg's own log lines through zap. Outside
// debug runs only errors come through, ffmpeg is chatty.
func setupLibAVLogging(c *entities.Config, l *zap.SugaredLogger) {
	if c.Debug {
		astiav.SetLogLevel(astiav.LogLevelDebug)
	} else {
		astiav.SetLogLevel(astiav.LogLevelError)
	}
	astiav.SetLogCallback(func(level astiav.LogLevel, fmt, msg, parent string) {
		l.Infof("ffmpeg log: %s (level: %d)", strings.TrimSpace(msg), level)
	})
}
